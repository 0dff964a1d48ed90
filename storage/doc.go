// Package storage links registered content hashes to the documents they
// name.
//
// A registration stores a CIDv0 (a "Qm..." hash) on chain. This package
// checks that a hash is registrable, turns it into a public gateway URL and,
// when an IPFS node is reachable, uploads documents to obtain a hash:
//
//	up := storage.NewIPFSUploader("localhost:5001", 0, log)
//	hash, err := up.Upload(ctx, file)
//	link, err := storage.GatewayURL("https://ipfs.io/ipfs/", hash)
package storage
