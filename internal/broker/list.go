package broker

import (
	"encoding/json"
)

// Well-known list-cache attribute keys that must be emitted first, in
// this order, ahead of any other cache entry.
const (
	AttrBase           = "$base"
	AttrIs             = "$is"
	AttrDisconnectedTs = "$disconnectedTs"
)

// CacheEntry is one ordered entry of a list stream's replayed cache.
type CacheEntry struct {
	Key   string
	Value json.RawMessage
}

// ListStream represents a sustained list subscription against a node,
// local or remote. All mutation happens on the single dispatch
// goroutine (spec §5); ListStream itself holds no internal lock.
type ListStream struct {
	// Path is the path this stream tracks: the absolute path for a local
	// stream, the residual remote path (same as RemotePath) for a
	// downstream stream.
	Path string
	// Downstream is non-nil when Path resolves through a downstream link.
	Downstream *DownstreamNode
	// RemotePath is the residual path sent to the responder, valid when Downstream != nil.
	RemotePath string
	// ResponderRid is the rid minted toward the responder, valid when Downstream != nil.
	ResponderRid uint32

	// Clients maps requester link name to the rid that link receives updates under.
	Clients map[string]uint32

	// cache holds the last announced value per key.
	cache map[string]json.RawMessage
	// order records insertion order of non-$base/$is keys for stable iteration.
	order []string

	Disconnected bool

	// LocalNode and the listener ids below are set only for list streams
	// over a local (non-downstream) node, so the stream can be unwatched
	// when its last client leaves.
	LocalNode        *Node
	ValueListenerID  uint64
	StructListenerID uint64
}

// NewListStream creates an empty list stream tracking path.
func NewListStream(path string) *ListStream {
	return &ListStream{
		Path:    path,
		Clients: make(map[string]uint32),
		cache:   make(map[string]json.RawMessage),
	}
}

// AddClient registers a requester link under the rid it expects updates on.
func (s *ListStream) AddClient(link string, rid uint32) {
	s.Clients[link] = rid
}

// RemoveClient removes a requester link and returns the remaining client count.
func (s *ListStream) RemoveClient(link string) int {
	delete(s.Clients, link)
	return len(s.Clients)
}

// PutCache records or overwrites a cache entry. Passing the Removed
// sentinel as the value is treated the same as any other value by this
// method; callers that want delete semantics should call DeleteCache.
func (s *ListStream) PutCache(key string, value json.RawMessage) {
	if _, exists := s.cache[key]; !exists && key != AttrBase && key != AttrIs {
		s.order = append(s.order, key)
	}
	s.cache[key] = value
}

// DeleteCache removes a cache entry entirely (used when an update
// carries the "remove" sentinel).
func (s *ListStream) DeleteCache(key string) {
	delete(s.cache, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns the cache as an ordered slice: $base first, $is
// second (if present), then all remaining entries in stable insertion
// order. This ordering is what spec §4.2/§8 requires late joiners to
// observe.
func (s *ListStream) Snapshot() []CacheEntry {
	var out []CacheEntry
	if v, ok := s.cache[AttrBase]; ok {
		out = append(out, CacheEntry{AttrBase, v})
	}
	if v, ok := s.cache[AttrIs]; ok {
		out = append(out, CacheEntry{AttrIs, v})
	}
	for _, k := range s.order {
		if v, ok := s.cache[k]; ok {
			out = append(out, CacheEntry{k, v})
		}
	}
	return out
}

// ResetForDisconnect clears the cache down to a single synthetic
// $disconnectedTs entry (spec §4.2, §4.5, invariant 5 of §8).
func (s *ListStream) ResetForDisconnect(ts string) {
	s.cache = make(map[string]json.RawMessage)
	s.order = []string{AttrDisconnectedTs}
	tsRaw, _ := json.Marshal(ts)
	s.cache[AttrDisconnectedTs] = tsRaw
	s.Disconnected = true
}

// ResetForReconnect clears $disconnectedTs and rewrites $base to the
// link's new path, in preparation for a fresh remote list request
// (spec §4.2 "On reconnect of the downstream").
func (s *ListStream) ResetForReconnect(newBase string) {
	s.DeleteCache(AttrDisconnectedTs)
	baseRaw, _ := json.Marshal(newBase)
	s.PutCache(AttrBase, baseRaw)
	s.Disconnected = false
}
