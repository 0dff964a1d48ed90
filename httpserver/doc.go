/*
Package httpserver exposes the identity workflow as a JSON HTTP API.

One server drives one wallet session. Clients dispatch intents and read back
state; nothing is rendered server side.

# API Endpoints

  - POST /api/wallet/connect: connect the wallet and bind the contract
  - POST /api/wallet/disconnect: drop the session
  - GET /api/session: account, chain, network descriptor, busy flag
  - POST /api/identity: register {"name", "ipfs_hash"} and wait for the receipt
  - GET /api/identity: the connected account's record with its gateway URL
  - GET /api/network/{chain_id}: network descriptor for any chain id
  - GET /api/notifications: notifications that have not expired

Failures are returned as {"category", "message", "field_errors"} with the
status code chosen by StatusFor.

# Health

  - GET /livez
  - GET /readyz
  - GET /drain, GET /undrain

pprof is mounted under /debug when enabled.
*/
package httpserver
