package dispatch

import (
	"github.com/nugget/linkbroker/internal/metrics"
	"github.com/nugget/linkbroker/internal/session"
	"github.com/nugget/linkbroker/internal/wire"
)

// handleInvoke routes an invocation toward its target's responder.
// Regular (local) nodes have no action semantics in this tree (spec
// §3, Data Model: a regular node owns a value and children, not an
// invocable behavior), so an invoke that resolves locally is answered
// closed immediately.
func (rt *Router) handleInvoke(s *session.Session, req wire.Request) {
	_, ds, remainder, err := rt.tree.Resolve(req.Path)
	if err != nil || ds == nil {
		rt.sendClosed(s.Name, req.Rid)
		return
	}

	rid := ds.NextRid()
	inv := rt.registry.NewInvoke(s.Name, req.Rid, ds, rid)
	s.InvokeByRid[req.Rid] = inv
	metrics.StreamsActive.WithLabelValues("invoke").Inc()

	rt.sendEnvelope(ds.Name, wire.Envelope{Requests: []wire.Request{
		{Rid: rid, Method: wire.MethodInvoke, Path: remainder, Params: req.Params},
	}})
}
