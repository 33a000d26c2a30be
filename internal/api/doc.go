// Package api exposes the chain manager over HTTP: chain registry and
// switching endpoints, network reads and transaction submission, health
// checks, Prometheus metrics and a WebSocket stream of chain events.
package api
