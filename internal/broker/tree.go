package broker

import (
	"fmt"
	"strings"
	"sync"
)

// Tree is the unified virtual node tree: a root of regular nodes plus a
// set of downstream mount points under a well-known prefix (spec §6,
// "Path grammar"). All mutation happens on the single dispatch
// goroutine; Tree's lock only guards the downstream map against
// concurrent reads from status/metrics endpoints.
type Tree struct {
	mu sync.RWMutex

	root             *Node
	downstreamPrefix string
	downstream       map[string]*DownstreamNode
}

// NewTree creates a tree whose downstream links mount under prefix
// (e.g. "/downstream"). prefix must not end in "/".
func NewTree(prefix string) *Tree {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = "/downstream"
	}
	return &Tree{
		root:             NewNode(),
		downstreamPrefix: prefix,
		downstream:       make(map[string]*DownstreamNode),
	}
}

// Root returns the tree's root regular node.
func (t *Tree) Root() *Node {
	return t.root
}

// AttachDownstream creates (or, if within the reconnect grace window,
// reuses) the downstream node for the named link. Reusing an existing
// node preserves its counters, streams, and caches across a reconnect
// (spec §3 invariant, §4.5).
func (t *Tree) AttachDownstream(name string) *DownstreamNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, ok := t.downstream[name]; ok {
		d.Attached = true
		return d
	}
	path := t.downstreamPrefix + "/" + name
	d := NewDownstreamNode(name, path)
	t.downstream[name] = d
	return d
}

// DetachDownstream removes the downstream node entirely. Called only
// after the reconnect grace window has expired (spec §4.5).
func (t *Tree) DetachDownstream(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.downstream, name)
}

// Downstream looks up an attached (or grace-window) downstream node by
// link name.
func (t *Tree) Downstream(name string) (*DownstreamNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.downstream[name]
	return d, ok
}

// ErrUnresolved is returned by Resolve when no node exists at path and
// no downstream mount is a prefix of it.
var ErrUnresolved = fmt.Errorf("path does not resolve")

// Resolve walks path through the tree. If path falls under a
// downstream mount (t.downstreamPrefix + "/" + linkName [+ "/" ...]),
// it returns the downstream node and the residual suffix (the part of
// path beyond the link's mount point, "/"-absolute, "/" if none).
// Otherwise it walks regular nodes from the root and returns the local
// node reached, or ErrUnresolved if any segment is missing.
func (t *Tree) Resolve(path string) (local *Node, downstream *DownstreamNode, remainder string, err error) {
	segs := splitPath(path)

	if rest, ok := stripPrefix(segs, splitPath(t.downstreamPrefix)); ok && len(rest) > 0 {
		name := rest[0]
		if d, found := t.Downstream(name); found {
			return nil, d, joinPath(rest[1:]), nil
		}
		return nil, nil, "", ErrUnresolved
	}

	n := t.root
	for _, seg := range segs {
		child, ok := n.Child(seg)
		if !ok {
			return nil, nil, "", ErrUnresolved
		}
		n = child
	}
	return n, nil, "", nil
}

// EnsureLocalNode walks (creating as needed) the regular-node path and
// returns the node at its end. Used to build local subtrees and by the
// MQTT bridge to mirror external values as ordinary nodes.
func (t *Tree) EnsureLocalNode(path string) *Node {
	n := t.root
	for _, seg := range splitPath(path) {
		n = n.EnsureChild(seg)
	}
	return n
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func joinPath(segs []string) string {
	if len(segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(segs, "/")
}

func stripPrefix(segs, prefix []string) ([]string, bool) {
	if len(segs) < len(prefix) {
		return nil, false
	}
	for i, p := range prefix {
		if segs[i] != p {
			return nil, false
		}
	}
	return segs[len(prefix):], true
}
