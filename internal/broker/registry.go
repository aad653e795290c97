package broker

// Registry is the single owner of every list, value-subscription, and
// invocation stream. Per-downstream lookup indices (ListPaths/ListRids/
// SubPaths/SubSids/InvokeRids) live on DownstreamNode because that is
// what the wire protocol keys responses by; Registry is what decides
// when a stream is created and when it is safe to destroy — no other
// package reaches into those maps directly.
//
// Registry itself holds no lock: every method is called from the
// single dispatch goroutine (spec §5).
type Registry struct {
	localLists map[string]*ListStream // local absolute path -> stream
}

// NewRegistry creates an empty stream registry.
func NewRegistry() *Registry {
	return &Registry{localLists: make(map[string]*ListStream)}
}

// JoinOrCreateLocalList returns the existing list stream tracking a
// local path, or creates one. created reports whether a new stream was
// made (the caller must then populate its cache by walking the node).
func (r *Registry) JoinOrCreateLocalList(path string) (stream *ListStream, created bool) {
	if s, ok := r.localLists[path]; ok {
		return s, false
	}
	s := NewListStream(path)
	r.localLists[path] = s
	return s, true
}

// ReleaseLocalList destroys a local list stream. The caller must have
// already removed every client from s (spec design note: the registry
// removes clients before freeing a stream).
func (r *Registry) ReleaseLocalList(s *ListStream) {
	delete(r.localLists, s.Path)
	clearListClients(s)
}

// JoinOrCreateRemoteList returns the existing list stream coalesced on
// (ds, remotePath), or creates one and registers it in ds's lookup maps.
func (r *Registry) JoinOrCreateRemoteList(ds *DownstreamNode, remotePath string) (stream *ListStream, created bool) {
	if s, ok := ds.ListPaths[remotePath]; ok {
		return s, false
	}
	s := NewListStream(remotePath)
	s.Downstream = ds
	s.RemotePath = remotePath
	ds.ListPaths[remotePath] = s
	return s, true
}

// RegisterRemoteListRid records the responder rid minted for s, so
// inbound responses can be routed back to it.
func (r *Registry) RegisterRemoteListRid(ds *DownstreamNode, rid uint32, s *ListStream) {
	s.ResponderRid = rid
	ds.ListRids[rid] = s
}

// LookupRemoteListByRid routes an inbound list response to its stream.
func (r *Registry) LookupRemoteListByRid(ds *DownstreamNode, rid uint32) (*ListStream, bool) {
	s, ok := ds.ListRids[rid]
	return s, ok
}

// ReleaseRemoteList destroys a remote list stream and removes it from
// ds's lookup maps. The caller must have already removed every client.
func (r *Registry) ReleaseRemoteList(ds *DownstreamNode, s *ListStream) {
	delete(ds.ListPaths, s.RemotePath)
	if s.ResponderRid != 0 {
		delete(ds.ListRids, s.ResponderRid)
	}
	clearListClients(s)
}

// JoinOrCreateValueSub returns the existing value-subscription stream
// coalesced on (ds, remotePath), or creates one and registers it in
// ds's lookup maps (invariant: at most one such stream per (downstream, path)).
func (r *Registry) JoinOrCreateValueSub(ds *DownstreamNode, remotePath string) (stream *ValueStream, created bool) {
	if s, ok := ds.SubPaths[remotePath]; ok {
		return s, false
	}
	s := NewValueStream(remotePath)
	s.Downstream = ds
	s.RemotePath = remotePath
	ds.SubPaths[remotePath] = s
	return s, true
}

// RegisterValueSubSid records the responder sid minted for s, so
// inbound updates can be routed back to it.
func (r *Registry) RegisterValueSubSid(ds *DownstreamNode, sid uint32, s *ValueStream) {
	s.ResponderSid = sid
	ds.SubSids[sid] = s
}

// LookupValueSubBySid routes an inbound value update to its stream.
func (r *Registry) LookupValueSubBySid(ds *DownstreamNode, sid uint32) (*ValueStream, bool) {
	s, ok := ds.SubSids[sid]
	return s, ok
}

// ReleaseValueSub destroys a value-subscription stream and removes it
// from ds's lookup maps. The caller must have already removed every client.
func (r *Registry) ReleaseValueSub(ds *DownstreamNode, s *ValueStream) {
	delete(ds.SubPaths, s.RemotePath)
	if s.ResponderSid != 0 {
		delete(ds.SubSids, s.ResponderSid)
	}
	clearValueClients(s)
}

// NewInvoke creates an invocation stream and, if remote, registers it
// under ds's responder-rid lookup map.
func (r *Registry) NewInvoke(requesterLink string, requesterRid uint32, ds *DownstreamNode, responderRid uint32) *InvokeStream {
	s := NewInvokeStream(requesterLink, requesterRid, ds, responderRid)
	if ds != nil {
		ds.InvokeRids[responderRid] = s
	}
	return s
}

// LookupInvokeByRid routes an inbound invoke response to its stream.
func (r *Registry) LookupInvokeByRid(ds *DownstreamNode, rid uint32) (*InvokeStream, bool) {
	s, ok := ds.InvokeRids[rid]
	return s, ok
}

// ReleaseInvoke destroys an invocation stream.
func (r *Registry) ReleaseInvoke(s *InvokeStream) {
	if s.Downstream != nil {
		delete(s.Downstream.InvokeRids, s.ResponderRid)
	}
}

func clearListClients(s *ListStream) {
	for link := range s.Clients {
		delete(s.Clients, link)
	}
}

func clearValueClients(s *ValueStream) {
	for link := range s.Clients {
		delete(s.Clients, link)
	}
}
