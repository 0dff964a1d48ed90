// Package main (cmd/identityd) serves the identity registration API.
//
// The server owns one wallet session, configured the same way as the
// identity command (--private-key, --keystore or --dev), and exposes it over
// the JSON API described in package httpserver. Without a wallet the server
// still starts; connect requests then fail with a no-wallet error.
//
// Example usage:
//
//	identityd --dev --connect --listen-addr 127.0.0.1:8080
//	curl -X POST localhost:8080/api/identity -d '{"name":"Alice","ipfs_hash":"Qm..."}'
//
// The server shuts down gracefully on SIGINT/SIGTERM.
package main
