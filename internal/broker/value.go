package broker

import "encoding/json"

// ValueStream represents a sustained value subscription against a
// node, shared by every requester subscribed to the same path. All
// mutation happens on the single dispatch goroutine; ValueStream holds
// no internal lock.
type ValueStream struct {
	// Path is the path this stream tracks; streams made by the registry
	// carry the residual remote path here (same as RemotePath).
	Path string
	// Downstream is non-nil when Path resolves through a downstream link.
	Downstream *DownstreamNode
	// RemotePath is the residual path sent to the responder, valid when Downstream != nil.
	RemotePath string
	// ResponderSid is the sid minted toward the responder, valid when Downstream != nil.
	ResponderSid uint32

	HasLastValue bool
	LastValue    json.RawMessage
	LastTs       string

	// Clients maps requester link name to the sid that link chose.
	Clients map[string]uint32
}

// NewValueStream creates an empty value-subscription stream tracking path.
func NewValueStream(path string) *ValueStream {
	return &ValueStream{
		Path:    path,
		Clients: make(map[string]uint32),
	}
}

// AddClient registers a requester link under the sid it chose.
func (s *ValueStream) AddClient(link string, sid uint32) {
	s.Clients[link] = sid
}

// RemoveClient removes a requester link and returns the remaining client count.
func (s *ValueStream) RemoveClient(link string) int {
	delete(s.Clients, link)
	return len(s.Clients)
}

// SetLastValue records the most recently observed value.
func (s *ValueStream) SetLastValue(value json.RawMessage, ts string) {
	s.HasLastValue = true
	s.LastValue = value
	s.LastTs = ts
}
