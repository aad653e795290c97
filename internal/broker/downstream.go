package broker

import "sync"

// DownstreamNode represents an attached responder link's mount point in
// the tree. It carries the per-downstream rid/sid counters used to mint
// ids on the wire toward that responder, and the lookup indices the
// stream registry uses to coalesce subscriptions and route inbound
// responses back to the right stream.
//
// Counters never reset for the lifetime of the downstream node,
// including across a disconnect/reconnect cycle (spec invariant): they
// live here, not on the transient link connection.
type DownstreamNode struct {
	mu sync.Mutex

	Name string // the link's declared name
	Path string // mount path, e.g. "/downstream/myLink"

	nextRid uint32
	nextSid uint32

	// Attached reports whether the responder link is currently
	// connected. False while within the reconnect grace window.
	Attached bool

	// ListPaths coalesces remote list subscriptions: remote path -> stream.
	ListPaths map[string]*ListStream
	// ListRids routes inbound list responses: responder rid -> stream.
	ListRids map[uint32]*ListStream

	// SubPaths coalesces remote value subscriptions: remote path -> stream.
	SubPaths map[string]*ValueStream
	// SubSids routes inbound value updates: responder sid -> stream.
	SubSids map[uint32]*ValueStream

	// InvokeRids routes inbound invoke responses: responder rid -> stream.
	InvokeRids map[uint32]*InvokeStream
}

// NewDownstreamNode creates a downstream node for a responder link
// mounted at path. Counters start at zero.
func NewDownstreamNode(name, path string) *DownstreamNode {
	return &DownstreamNode{
		Name:       name,
		Path:       path,
		Attached:   true,
		ListPaths:  make(map[string]*ListStream),
		ListRids:   make(map[uint32]*ListStream),
		SubPaths:   make(map[string]*ValueStream),
		SubSids:    make(map[uint32]*ValueStream),
		InvokeRids: make(map[uint32]*InvokeStream),
	}
}

// NextRid mints the next broker-local request id for this downstream.
func (d *DownstreamNode) NextRid() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextRid++
	return d.nextRid
}

// NextSid mints the next broker-local subscription id for this downstream.
func (d *DownstreamNode) NextSid() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextSid++
	return d.nextSid
}
