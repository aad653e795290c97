package dispatch

import (
	"encoding/json"
	"time"

	"github.com/nugget/linkbroker/internal/broker"
	"github.com/nugget/linkbroker/internal/metrics"
	"github.com/nugget/linkbroker/internal/session"
	"github.com/nugget/linkbroker/internal/wire"
)

// handleDisconnect processes the loss of a link's transport. A pure
// requester's state is torn down immediately. A responder's downstream
// node survives for GraceWindow (spec §4.5): its list and subscription
// streams are marked disconnected rather than released, so a prompt
// reconnect can resume them without requesters losing their place.
// In-flight invocations do not survive a disconnect regardless of link
// kind: a call has no meaning to resume once its responder vanishes.
func (rt *Router) handleDisconnect(linkName string) {
	s, ok := rt.sessions.Get(linkName)
	if !ok {
		return
	}
	delete(rt.links, linkName)
	rt.sessions.Remove(linkName)

	if s.IsRequester {
		metrics.LinksConnected.WithLabelValues("requester").Dec()
	}
	if s.IsResponder {
		metrics.LinksConnected.WithLabelValues("responder").Dec()
	}
	if s.IsResponder && s.Downstream != nil {
		rt.markDownstreamDisconnected(s.Downstream)
	}
	rt.releaseRequesterState(s)
}

func (rt *Router) markDownstreamDisconnected(ds *broker.DownstreamNode) {
	ds.Attached = false
	ts := rt.timestamp()
	tsRaw, _ := json.Marshal(ts)

	for _, stream := range ds.ListPaths {
		stream.ResetForDisconnect(ts)
		rt.fanOutListUpdate(stream, broker.AttrDisconnectedTs, tsRaw)
	}
	// Value-subscription streams retain their last value and send no
	// update here (spec §4.5): clients see no change, only that further
	// updates stop, until either a reconnect resumes the stream or the
	// grace window expires and expireGrace emits the synthetic null.
	for _, inv := range snapshotInvokes(ds) {
		rt.sendEnvelope(inv.RequesterLink, wire.Envelope{Responses: []wire.Response{
			{Rid: inv.RequesterRid, Stream: wire.StreamClosed},
		}})
		if cs, ok := rt.sessions.Get(inv.RequesterLink); ok {
			delete(cs.InvokeByRid, inv.RequesterRid)
		}
		rt.registry.ReleaseInvoke(inv)
		metrics.StreamsActive.WithLabelValues("invoke").Dec()
	}

	metrics.DownstreamsInGrace.Inc()
	rt.startGrace(ds.Name)
}

func snapshotInvokes(ds *broker.DownstreamNode) []*broker.InvokeStream {
	out := make([]*broker.InvokeStream, 0, len(ds.InvokeRids))
	for _, inv := range ds.InvokeRids {
		out = append(out, inv)
	}
	return out
}

// releaseRequesterState tears down every stream s was a client of, as a
// requester. It does not touch s.Downstream: that survives disconnect
// independently, governed by the grace timer.
func (rt *Router) releaseRequesterState(s *session.Session) {
	for sid, stream := range s.SubSids {
		delete(s.SubSids, sid)
		rt.releaseValueSubClient(s, stream)
	}
	for _, ls := range s.LocalSubs {
		ls.Node.RemoveListener(ls.ListenerID)
		metrics.StreamsActive.WithLabelValues("subscribe").Dec()
	}
	s.LocalSubs = make(map[uint32]session.LocalSub)

	for rid, stream := range s.ListByRid {
		rt.releaseListClient(s, rid, stream)
	}
	for rid, inv := range s.InvokeByRid {
		rt.releaseInvoke(s, rid, inv)
	}
}

func (rt *Router) startGrace(linkName string) {
	rt.graceTimers[linkName] = time.AfterFunc(rt.graceWindow, func() {
		rt.enqueue(func() { rt.expireGrace(linkName) })
	})
}

func (rt *Router) cancelGrace(linkName string) {
	if t, ok := rt.graceTimers[linkName]; ok {
		t.Stop()
		delete(rt.graceTimers, linkName)
		metrics.DownstreamsInGrace.Dec()
		metrics.ReconnectsTotal.Inc()
	}
}

// expireGrace permanently releases a downstream node whose grace window
// elapsed without a reconnect, closing out every stream still rooted
// there (spec §4.5).
func (rt *Router) expireGrace(linkName string) {
	delete(rt.graceTimers, linkName)
	ds, ok := rt.tree.Downstream(linkName)
	if !ok || ds.Attached {
		return
	}

	for _, stream := range ds.ListPaths {
		metrics.StreamsActive.WithLabelValues("list").Dec()
		for link, rid := range stream.Clients {
			rt.sendEnvelope(link, wire.Envelope{Responses: []wire.Response{{Rid: rid, Stream: wire.StreamClosed}}})
			if cs, ok := rt.sessions.Get(link); ok {
				delete(cs.ListByRid, rid)
			}
		}
	}
	ts := rt.timestamp()
	for _, stream := range ds.SubPaths {
		metrics.StreamsActive.WithLabelValues("subscribe").Dec()
		for link, sid := range stream.Clients {
			rt.emitSubscribeUpdate(link, sid, nil, ts)
			if cs, ok := rt.sessions.Get(link); ok {
				delete(cs.SubSids, sid)
			}
		}
	}

	rt.tree.DetachDownstream(linkName)
	metrics.DownstreamsInGrace.Dec()
	metrics.DownstreamsAttached.Dec()
	metrics.GraceExpirationsTotal.Inc()
	rt.logger.Info("downstream grace window expired", "link", linkName)
}

// resumeAfterReconnect re-establishes every list and subscription stream
// still held open through a downstream node that just reattached within
// its grace window. List streams get a freshly minted responder rid,
// since the old one was never acknowledged as still valid; subscription
// streams reuse their remembered responder sid, which the responder is
// expected to recognize across the reconnect.
func (rt *Router) resumeAfterReconnect(s *session.Session) {
	ds := s.Downstream
	newBase := ds.Path

	for _, stream := range ds.ListPaths {
		if stream.ResponderRid != 0 {
			delete(ds.ListRids, stream.ResponderRid)
		}
		stream.ResetForReconnect(newBase + stream.RemotePath)
		rt.fanOutListUpdate(stream, broker.AttrBase, mustMarshal(newBase+stream.RemotePath))

		rid := ds.NextRid()
		rt.registry.RegisterRemoteListRid(ds, rid, stream)
		rt.sendEnvelope(ds.Name, wire.Envelope{Requests: []wire.Request{
			{Rid: rid, Method: wire.MethodList, Path: stream.RemotePath},
		}})
	}

	for _, stream := range ds.SubPaths {
		// Unlike list rids, the responder sid is remembered and reused
		// across reconnect (spec §4.5): the responder is told to
		// resubscribe under the same sid it already knows, rather than
		// being handed a new one.
		rt.sendEnvelope(ds.Name, wire.Envelope{Requests: []wire.Request{{
			Method: wire.MethodSubscribe,
			Paths:  []wire.SubscribePath{{Path: stream.RemotePath, Sid: stream.ResponderSid}},
		}}})
	}

	rt.logger.Info("downstream reconnected within grace window", "link", ds.Name)
}

func mustMarshal(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
