package dispatch

import (
	"encoding/json"

	"github.com/nugget/linkbroker/internal/broker"
	"github.com/nugget/linkbroker/internal/metrics"
	"github.com/nugget/linkbroker/internal/session"
	"github.com/nugget/linkbroker/internal/wire"
)

func (rt *Router) handleList(s *session.Session, req wire.Request) {
	if req.Path == "" {
		rt.sendClosed(s.Name, req.Rid)
		return
	}
	local, ds, remainder, err := rt.tree.Resolve(req.Path)
	if err != nil {
		rt.sendClosed(s.Name, req.Rid)
		return
	}
	if ds != nil {
		rt.handleRemoteList(s, req, ds, remainder)
		return
	}
	rt.handleLocalList(s, req, local, req.Path)
}

func (rt *Router) handleLocalList(s *session.Session, req wire.Request, node *broker.Node, path string) {
	stream, created := rt.registry.JoinOrCreateLocalList(path)
	stream.AddClient(s.Name, req.Rid)
	s.ListByRid[req.Rid] = stream

	if created {
		stream.LocalNode = node
		rt.populateLocalListCache(stream, node)
		rt.watchLocalList(stream, node)
		metrics.StreamsActive.WithLabelValues("list").Inc()
	}
	rt.emitListSnapshot(s.Name, req.Rid, stream)
}

func (rt *Router) populateLocalListCache(stream *broker.ListStream, node *broker.Node) {
	isRaw, _ := json.Marshal("node")
	stream.PutCache(broker.AttrIs, isRaw)
	for _, name := range node.ChildNames() {
		stream.PutCache(name, childSummary())
	}
}

func childSummary() json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"$is": "node"})
	return raw
}

// watchLocalList keeps a local list stream's cache current by listening
// for new children. Node events fire from whatever goroutine called
// EnsureChild (e.g. a caller of Tree().EnsureLocalNode outside the
// actor), so the handler re-enters the router through the actor queue
// rather than touching the stream directly.
func (rt *Router) watchLocalList(stream *broker.ListStream, node *broker.Node) {
	stream.StructListenerID = node.AddStructureListener(func(childName string) {
		rt.enqueue(func() {
			stream.PutCache(childName, childSummary())
			rt.fanOutListUpdate(stream, childName, childSummary())
		})
	})
}

func (rt *Router) unwatchLocalList(stream *broker.ListStream) {
	if stream.LocalNode != nil {
		stream.LocalNode.RemoveStructureListener(stream.StructListenerID)
		stream.LocalNode = nil
	}
}

func (rt *Router) handleRemoteList(s *session.Session, req wire.Request, ds *broker.DownstreamNode, remotePath string) {
	stream, created := rt.registry.JoinOrCreateRemoteList(ds, remotePath)
	stream.AddClient(s.Name, req.Rid)
	s.ListByRid[req.Rid] = stream

	if created {
		rid := ds.NextRid()
		rt.registry.RegisterRemoteListRid(ds, rid, stream)
		rt.sendEnvelope(ds.Name, wire.Envelope{Requests: []wire.Request{
			{Rid: rid, Method: wire.MethodList, Path: remotePath},
		}})
		metrics.StreamsActive.WithLabelValues("list").Inc()
		return
	}
	rt.emitListSnapshot(s.Name, req.Rid, stream)
}

// emitListSnapshot replays a list stream's current cache to one client
// in full, in the order spec'd by ListStream.Snapshot.
func (rt *Router) emitListSnapshot(linkName string, rid uint32, stream *broker.ListStream) {
	snap := stream.Snapshot()
	if len(snap) == 0 {
		return
	}
	updates := make([]json.RawMessage, len(snap))
	for i, e := range snap {
		updates[i] = wire.ListUpdate(e.Key, e.Value)
	}
	rt.sendEnvelope(linkName, wire.Envelope{Responses: []wire.Response{
		{Rid: rid, Stream: wire.StreamOpen, Updates: updates},
	}})
}

// fanOutListUpdate pushes one cache entry to every current client of stream.
func (rt *Router) fanOutListUpdate(stream *broker.ListStream, key string, value json.RawMessage) {
	entry := wire.ListUpdate(key, value)
	for link, rid := range stream.Clients {
		rt.sendEnvelope(link, wire.Envelope{Responses: []wire.Response{
			{Rid: rid, Stream: wire.StreamOpen, Updates: []json.RawMessage{entry}},
		}})
	}
}

func (rt *Router) releaseListClient(s *session.Session, rid uint32, stream *broker.ListStream) {
	delete(s.ListByRid, rid)
	if stream.RemoveClient(s.Name) > 0 {
		return
	}
	if stream.Downstream != nil {
		ds := stream.Downstream
		responderRid := stream.ResponderRid
		rt.registry.ReleaseRemoteList(ds, stream)
		if ds.Attached {
			rt.sendEnvelope(ds.Name, wire.Envelope{Requests: []wire.Request{
				{Rid: responderRid, Method: wire.MethodClose},
			}})
		}
		metrics.StreamsActive.WithLabelValues("list").Dec()
		return
	}
	rt.unwatchLocalList(stream)
	rt.registry.ReleaseLocalList(stream)
	metrics.StreamsActive.WithLabelValues("list").Dec()
}
