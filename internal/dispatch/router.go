// Package dispatch implements the message router: it decodes inbound
// request/response envelopes, dispatches to per-method handlers, walks
// the node tree and stream registry to create or join streams, and
// encodes outbound envelopes — including the disconnect/reconnect
// coordinator, which runs on the same serialized actor loop so its
// effects interleave safely with live traffic.
package dispatch

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nugget/linkbroker/internal/broker"
	"github.com/nugget/linkbroker/internal/metrics"
	"github.com/nugget/linkbroker/internal/session"
	"github.com/nugget/linkbroker/internal/wire"
)

// Link is the transport-level handle the router uses to address a
// connected link. Transports (WebSocket, or a test fake) implement it.
type Link interface {
	Name() string
	Send(wire.Envelope) error
}

// Config configures a Router.
type Config struct {
	// DownstreamPrefix is the well-known mount prefix for responder
	// links, e.g. "/downstream".
	DownstreamPrefix string
	// GraceWindow is how long a disconnected responder's state is
	// preserved for a possible reconnect (spec §4.5, §9: default 30s).
	GraceWindow time.Duration
	// Clock returns the current time; overridable in tests. Defaults to time.Now.
	Clock func() time.Time
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Router is the broker's message router and disconnect/reconnect
// coordinator. All state mutation happens on a single goroutine
// (spec §5); external callers interact with it through Deliver,
// Connect, Disconnect, MirrorValue, and Flush, which enqueue work onto
// that goroutine, and Tree, which hands out the node tree.
type Router struct {
	tree     *broker.Tree
	registry *broker.Registry
	sessions *session.Registry

	links map[string]Link

	graceWindow time.Duration
	graceTimers map[string]*time.Timer

	clock  func() time.Time
	logger *slog.Logger

	cmds chan func()
	done chan struct{}
}

// New creates a Router ready to Start.
func New(cfg Config) *Router {
	if cfg.DownstreamPrefix == "" {
		cfg.DownstreamPrefix = "/downstream"
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		tree:        broker.NewTree(cfg.DownstreamPrefix),
		registry:    broker.NewRegistry(),
		sessions:    session.NewRegistry(),
		links:       make(map[string]Link),
		graceWindow: cfg.GraceWindow,
		graceTimers: make(map[string]*time.Timer),
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		cmds:        make(chan func(), 256),
		done:        make(chan struct{}),
	}
}

// Tree exposes the node tree for callers that need to build local
// subtrees or mirror external values (e.g. the MQTT bridge). Safe to
// call from any goroutine; Tree's own methods are independently safe.
func (rt *Router) Tree() *broker.Tree { return rt.tree }

// Start runs the router's actor loop until Stop is called.
func (rt *Router) Start() {
	go func() {
		defer close(rt.done)
		for cmd := range rt.cmds {
			cmd()
		}
	}()
}

// Stop shuts the actor loop down and waits for it to drain.
func (rt *Router) Stop() {
	close(rt.cmds)
	<-rt.done
}

func (rt *Router) enqueue(fn func()) {
	rt.cmds <- fn
}

func (rt *Router) enqueueSync(fn func()) {
	done := make(chan struct{})
	rt.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

// timestamp returns the current time as an ISO-8601 string with
// millisecond precision (spec §6, "Timestamps").
func (rt *Router) timestamp() string {
	return rt.clock().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Connect registers a newly handshaken link. If isResponder, this
// either creates a fresh downstream node or — if the link is
// reconnecting within its grace window — reuses the existing one and
// cancels the pending grace timer (spec §4.5).
func (rt *Router) Connect(link Link, isRequester, isResponder bool) {
	rt.enqueueSync(func() {
		rt.links[link.Name()] = link
		s := session.New(link.Name(), isRequester, isResponder)
		if isResponder {
			_, reconnecting := rt.tree.Downstream(link.Name())
			s.Downstream = rt.tree.AttachDownstream(link.Name())
			if reconnecting {
				rt.cancelGrace(link.Name())
				rt.resumeAfterReconnect(s)
			} else {
				metrics.DownstreamsAttached.Inc()
			}
		}
		rt.sessions.Add(s)
		if isRequester {
			metrics.LinksConnected.WithLabelValues("requester").Inc()
		}
		if isResponder {
			metrics.LinksConnected.WithLabelValues("responder").Inc()
		}
		rt.logger.Info("link attached", "link", link.Name(), "conn_id", s.ConnID, "requester", isRequester, "responder", isResponder)
	})
}

// Flush blocks until every command enqueued before this call has run.
// Tests use it as a synchronization barrier after Deliver/Disconnect,
// which are otherwise fire-and-forget.
func (rt *Router) Flush() {
	rt.enqueueSync(func() {})
}

// MirrorValue sets the value of a local node at path, creating it (and
// any missing ancestors) if necessary, and timestamps it with the
// router's clock. External value sources (the MQTT bridge, or any
// future ingest path) use this instead of touching Tree directly, so
// the mutation is serialized through the actor loop like everything else.
func (rt *Router) MirrorValue(path string, value json.RawMessage) {
	rt.enqueue(func() {
		node := rt.tree.EnsureLocalNode(path)
		node.SetValue(value, rt.timestamp())
	})
}

// Deliver decodes and dispatches one inbound envelope from linkName.
func (rt *Router) Deliver(linkName string, env wire.Envelope) {
	rt.enqueue(func() {
		rt.handleEnvelope(linkName, env)
	})
}

// Disconnect handles the loss of a link (spec §4.5).
func (rt *Router) Disconnect(linkName string) {
	rt.enqueue(func() {
		rt.handleDisconnect(linkName)
	})
}

func (rt *Router) handleEnvelope(linkName string, env wire.Envelope) {
	s, ok := rt.sessions.Get(linkName)
	if !ok {
		rt.logger.Warn("envelope from unknown link dropped", "link", linkName)
		return
	}
	for _, req := range env.Requests {
		rt.handleRequest(s, req)
	}
	for _, resp := range env.Responses {
		rt.handleResponse(s, resp)
	}
}

func (rt *Router) handleRequest(s *session.Session, req wire.Request) {
	timer := metrics.NewTimer()
	switch req.Method {
	case wire.MethodList:
		metrics.RequestsTotal.WithLabelValues(req.Method, "ok").Inc()
		rt.handleList(s, req)
	case wire.MethodSubscribe:
		metrics.RequestsTotal.WithLabelValues(req.Method, "ok").Inc()
		rt.handleSubscribe(s, req)
	case wire.MethodUnsubscribe:
		metrics.RequestsTotal.WithLabelValues(req.Method, "ok").Inc()
		rt.handleUnsubscribe(s, req)
	case wire.MethodInvoke:
		metrics.RequestsTotal.WithLabelValues(req.Method, "ok").Inc()
		rt.handleInvoke(s, req)
	case wire.MethodClose:
		metrics.RequestsTotal.WithLabelValues(req.Method, "ok").Inc()
		rt.handleClose(s, req)
	default:
		// Method not supported by the routing core (spec §7): answer closed.
		metrics.RequestsTotal.WithLabelValues(req.Method, "closed").Inc()
		rt.sendEnvelope(s.Name, wire.Envelope{Responses: []wire.Response{wire.ClosedResponse(req.Rid)}})
	}
	timer.ObserveDurationVec(metrics.RequestDuration, req.Method)
}

func (rt *Router) handleResponse(s *session.Session, resp wire.Response) {
	if !s.IsResponder || s.Downstream == nil {
		return
	}
	rt.routeDownstreamResponse(s.Downstream, resp)
}

// sendClosed sends the standard immediate closed response for rid.
func (rt *Router) sendClosed(linkName string, rid uint32) {
	rt.sendEnvelope(linkName, wire.Envelope{Responses: []wire.Response{wire.ClosedResponse(rid)}})
}

// sendEnvelope delivers env to linkName's transport, if still connected.
func (rt *Router) sendEnvelope(linkName string, env wire.Envelope) {
	link, ok := rt.links[linkName]
	if !ok {
		return
	}
	if err := link.Send(env); err != nil {
		rt.logger.Warn("send failed, treating as disconnect", "link", linkName, "error", err)
		rt.handleDisconnect(linkName)
	}
}
