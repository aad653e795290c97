// Package session tracks per-link state: identity, capabilities, and
// the bookkeeping a requester or responder link needs to translate
// between its own chosen ids and the broker's stream objects.
package session

import (
	"github.com/google/uuid"

	"github.com/nugget/linkbroker/internal/broker"
)

// LocalSub is the handle a requester keeps for a value subscription
// against a local regular node: which node, and which listener id to
// detach on unsubscribe.
type LocalSub struct {
	Node       *broker.Node
	ListenerID uint64
}

// Session is per-connected-link state. A session is created on
// successful handshake and removed as soon as the link disconnects; for
// a responder, only its DownstreamNode outlives the session through the
// grace window.
type Session struct {
	Name string

	// ConnID identifies this particular connection instance, distinct
	// from Name: every connection gets a fresh ConnID, including a
	// responder that resumes within its grace window, which is useful
	// for telling apart the log lines of successive connections of a
	// flappy link.
	ConnID uuid.UUID

	IsRequester bool
	IsResponder bool

	// Downstream is non-nil when IsResponder; it is the tree's
	// representation of this link as a mount point for other links'
	// requests.
	Downstream *broker.DownstreamNode

	// SubSids maps this requester's locally-chosen sid to the shared
	// remote value-subscription stream it is attached to.
	SubSids map[uint32]*broker.ValueStream

	// LocalSubs maps this requester's locally-chosen sid to a local
	// (same-broker) value subscription's listener handle.
	LocalSubs map[uint32]LocalSub

	// ListByRid maps this requester's locally-chosen rid to the list
	// stream it is a client of, for close() lookups.
	ListByRid map[uint32]*broker.ListStream

	// InvokeByRid maps this requester's locally-chosen rid to the
	// invocation stream it owns, for close() lookups and cleanup when
	// the requester disconnects.
	InvokeByRid map[uint32]*broker.InvokeStream
}

// New creates a session for a newly attached link.
func New(name string, isRequester, isResponder bool) *Session {
	return &Session{
		Name:        name,
		ConnID:      uuid.New(),
		IsRequester: isRequester,
		IsResponder: isResponder,
		SubSids:     make(map[uint32]*broker.ValueStream),
		LocalSubs:   make(map[uint32]LocalSub),
		ListByRid:   make(map[uint32]*broker.ListStream),
		InvokeByRid: make(map[uint32]*broker.InvokeStream),
	}
}
