// Package transport is the WebSocket edge of the broker: it upgrades
// inbound HTTP connections, performs the link handshake, and feeds
// decoded envelopes into a dispatch.Router. Per link it runs exactly
// two goroutines — a read pump and a write pump — neither of which
// touches router state directly; all they do is marshal bytes on one
// side and hand decoded envelopes to the router's actor queue on the
// other (spec §5).
package transport
