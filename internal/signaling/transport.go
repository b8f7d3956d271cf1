// Package signaling defines the control-plane transport the session
// coordinator consumes. The core depends on the Transport interface only;
// adapters translate it onto a concrete fabric (in-process for tests and
// single-node deployments, Redis pub/sub when several coordinator processes
// share signaling).
package signaling

import "errors"

// ErrUnavailable indicates the transport cannot currently deliver events.
// During an active session this is escalated to the reconnection supervisor
// rather than tearing the session down.
var ErrUnavailable = errors.New("signaling: transport unavailable")

// Transport delivers and receives session-control events.
//
// Rules:
// - Send must not be called after Close.
// - Subscribe delivers inbound envelopes asynchronously, in arrival order.
//   The returned cancel func releases the subscription; the channel is
//   closed afterwards.
// - Implementations must not invoke business logic; they only move
//   envelopes.
type Transport interface {
	Send(conversationID string, ev Event) error
	Subscribe() (<-chan Envelope, func())
	Close() error
}
