package dispatch

import (
	"encoding/json"

	"github.com/nugget/linkbroker/internal/broker"
	"github.com/nugget/linkbroker/internal/metrics"
	"github.com/nugget/linkbroker/internal/session"
	"github.com/nugget/linkbroker/internal/wire"
)

func (rt *Router) handleSubscribe(s *session.Session, req wire.Request) {
	for _, sp := range req.Paths {
		rt.subscribeOne(s, sp)
	}
}

func (rt *Router) subscribeOne(s *session.Session, sp wire.SubscribePath) {
	local, ds, remainder, err := rt.tree.Resolve(sp.Path)
	if err != nil {
		return
	}
	if ds != nil {
		rt.subscribeRemote(s, sp.Sid, ds, remainder)
		return
	}
	rt.subscribeLocal(s, sp.Sid, local)
}

func (rt *Router) subscribeRemote(s *session.Session, sid uint32, ds *broker.DownstreamNode, remotePath string) {
	stream, created := rt.registry.JoinOrCreateValueSub(ds, remotePath)
	stream.AddClient(s.Name, sid)
	s.SubSids[sid] = stream

	if created {
		metrics.StreamsActive.WithLabelValues("subscribe").Inc()
		remoteSid := ds.NextSid()
		rt.registry.RegisterValueSubSid(ds, remoteSid, stream)
		rt.sendEnvelope(ds.Name, wire.Envelope{Requests: []wire.Request{{
			Method: wire.MethodSubscribe,
			Paths:  []wire.SubscribePath{{Path: remotePath, Sid: remoteSid}},
		}}})
		return
	}
	if stream.HasLastValue {
		rt.emitSubscribeUpdate(s.Name, sid, stream.LastValue, stream.LastTs)
	}
}

func (rt *Router) subscribeLocal(s *session.Session, sid uint32, node *broker.Node) {
	metrics.StreamsActive.WithLabelValues("subscribe").Inc()
	if value, ts := node.Value(); ts != "" {
		rt.emitSubscribeUpdate(s.Name, sid, value, ts)
	}
	listenerID := node.AddListener(func(value json.RawMessage, ts string) {
		rt.enqueue(func() {
			rt.emitSubscribeUpdate(s.Name, sid, value, ts)
		})
	})
	s.LocalSubs[sid] = session.LocalSub{Node: node, ListenerID: listenerID}
}

// emitSubscribeUpdate pushes one [sid, value, ts] tuple to a single
// client over the shared rid:0 subscription channel (spec §9: requests
// and updates both use rid 0 for value subscriptions).
func (rt *Router) emitSubscribeUpdate(linkName string, sid uint32, value json.RawMessage, ts string) {
	entry := wire.SubscribeUpdate(sid, value, ts)
	rt.sendEnvelope(linkName, wire.Envelope{Responses: []wire.Response{
		{Rid: 0, Stream: wire.StreamOpen, Updates: []json.RawMessage{entry}},
	}})
}

func (rt *Router) handleUnsubscribe(s *session.Session, req wire.Request) {
	for _, sid := range req.Sids {
		rt.unsubscribeOne(s, sid)
	}
	rt.sendClosed(s.Name, req.Rid)
}

func (rt *Router) unsubscribeOne(s *session.Session, sid uint32) {
	if stream, ok := s.SubSids[sid]; ok {
		delete(s.SubSids, sid)
		rt.releaseValueSubClient(s, stream)
		return
	}
	if ls, ok := s.LocalSubs[sid]; ok {
		ls.Node.RemoveListener(ls.ListenerID)
		delete(s.LocalSubs, sid)
		metrics.StreamsActive.WithLabelValues("subscribe").Dec()
	}
}

func (rt *Router) releaseValueSubClient(s *session.Session, stream *broker.ValueStream) {
	if stream.RemoveClient(s.Name) > 0 {
		return
	}
	metrics.StreamsActive.WithLabelValues("subscribe").Dec()
	ds := stream.Downstream
	remoteSid := stream.ResponderSid
	rt.registry.ReleaseValueSub(ds, stream)
	if ds.Attached {
		rt.sendEnvelope(ds.Name, wire.Envelope{Requests: []wire.Request{{
			Method: wire.MethodUnsubscribe,
			Sids:   []uint32{remoteSid},
		}}})
	}
}
