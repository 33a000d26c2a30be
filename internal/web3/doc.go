// Package web3 defines the JSON-RPC capability set used to talk to EVM
// networks: the Transport interface, transaction request and receipt types,
// and the protocol/transport error split. Concrete transports live in
// subpackages such as ethereum.
package web3
