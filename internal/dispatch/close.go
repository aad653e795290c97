package dispatch

import (
	"github.com/nugget/linkbroker/internal/broker"
	"github.com/nugget/linkbroker/internal/metrics"
	"github.com/nugget/linkbroker/internal/session"
	"github.com/nugget/linkbroker/internal/wire"
)

// handleClose tears down a requester's list or invocation stream. Value
// subscriptions are torn down through unsubscribe, not close (spec §4.3/§4.4).
func (rt *Router) handleClose(s *session.Session, req wire.Request) {
	if stream, ok := s.ListByRid[req.Rid]; ok {
		rt.releaseListClient(s, req.Rid, stream)
		rt.sendClosed(s.Name, req.Rid)
		return
	}
	if inv, ok := s.InvokeByRid[req.Rid]; ok {
		rt.releaseInvoke(s, req.Rid, inv)
		rt.sendClosed(s.Name, req.Rid)
		return
	}
	rt.sendClosed(s.Name, req.Rid)
}

func (rt *Router) releaseInvoke(s *session.Session, requesterRid uint32, inv *broker.InvokeStream) {
	delete(s.InvokeByRid, requesterRid)
	rt.registry.ReleaseInvoke(inv)
	metrics.StreamsActive.WithLabelValues("invoke").Dec()
	if inv.Downstream != nil && inv.Downstream.Attached {
		rt.sendEnvelope(inv.Downstream.Name, wire.Envelope{Requests: []wire.Request{
			{Rid: inv.ResponderRid, Method: wire.MethodClose},
		}})
	}
}
