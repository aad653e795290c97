package dispatch

import (
	"encoding/json"

	"github.com/nugget/linkbroker/internal/broker"
	"github.com/nugget/linkbroker/internal/metrics"
	"github.com/nugget/linkbroker/internal/wire"
)

// routeDownstreamResponse dispatches one response arriving from a
// responder link to whichever stream minted the rid it carries.
// Subscription updates travel on rid 0, carrying their own sid per
// update tuple, rather than being keyed by rid (spec §9, resolved open
// question on rid:0 handling).
func (rt *Router) routeDownstreamResponse(ds *broker.DownstreamNode, resp wire.Response) {
	if resp.Rid == 0 {
		rt.routeSubscribeUpdates(ds, resp)
		return
	}
	if stream, ok := rt.registry.LookupRemoteListByRid(ds, resp.Rid); ok {
		rt.applyListResponse(stream, resp)
		return
	}
	if inv, ok := rt.registry.LookupInvokeByRid(ds, resp.Rid); ok {
		rt.routeInvokeResponse(inv, resp)
		return
	}
	rt.logger.Debug("response for unknown rid dropped", "link", ds.Name, "rid", resp.Rid)
}

func (rt *Router) routeSubscribeUpdates(ds *broker.DownstreamNode, resp wire.Response) {
	for _, u := range resp.Updates {
		sid, value, ts, ok := wire.ParseSubscribeUpdate(u)
		if !ok {
			continue
		}
		stream, ok := rt.registry.LookupValueSubBySid(ds, sid)
		if !ok {
			continue
		}
		stream.SetLastValue(value, ts)
		for link, clientSid := range stream.Clients {
			rt.emitSubscribeUpdate(link, clientSid, value, ts)
		}
	}
}

func (rt *Router) applyListResponse(stream *broker.ListStream, resp wire.Response) {
	for _, u := range resp.Updates {
		key, value, ok := wire.ParseListUpdate(u)
		if !ok {
			continue
		}
		if key != broker.AttrBase && key != broker.AttrIs && isRemoveSentinel(value) {
			stream.DeleteCache(key)
		} else {
			stream.PutCache(key, value)
		}
		rt.fanOutListUpdate(stream, key, value)
	}
}

func isRemoveSentinel(value json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return false
	}
	return s == wire.Removed
}

func (rt *Router) routeInvokeResponse(inv *broker.InvokeStream, resp wire.Response) {
	rt.sendEnvelope(inv.RequesterLink, wire.Envelope{Responses: []wire.Response{{
		Rid:     inv.RequesterRid,
		Stream:  resp.Stream,
		Updates: resp.Updates,
		Error:   resp.Error,
	}}})
	if resp.Stream == wire.StreamClosed {
		if s, ok := rt.sessions.Get(inv.RequesterLink); ok {
			delete(s.InvokeByRid, inv.RequesterRid)
		}
		rt.registry.ReleaseInvoke(inv)
		metrics.StreamsActive.WithLabelValues("invoke").Dec()
	}
}
