package transport

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/linkbroker/internal/dispatch"
	"github.com/nugget/linkbroker/internal/wire"
)

type denyList map[string]bool

func (d denyList) Authenticate(name string, _, _ bool, _ string) bool {
	return !d[name]
}

func TestHandshakeAcceptedAndRejected(t *testing.T) {
	router := dispatch.New(dispatch.Config{GraceWindow: time.Second})
	router.Start()
	t.Cleanup(router.Stop)

	srv := NewServer("", router, denyList{"blocked": true}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/conn"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(handshake{Name: "ok", IsRequester: true}); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	var ack map[string]bool
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if !ack["allowed"] {
		t.Fatal("expected allowed=true")
	}

	conn2, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn2.Close()
	if err := conn2.WriteJSON(handshake{Name: "blocked", IsRequester: true}); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	var reject map[string]string
	if err := conn2.ReadJSON(&reject); err != nil {
		t.Fatalf("read reject: %v", err)
	}
	if reject["error"] == "" {
		t.Fatal("expected an error field on rejection")
	}
}

func TestListRoundTripOverWebSocket(t *testing.T) {
	router := dispatch.New(dispatch.Config{GraceWindow: time.Second})
	router.Start()
	t.Cleanup(router.Stop)
	router.Tree().EnsureLocalNode("/data/a")

	srv := NewServer("", router, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/conn"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(handshake{Name: "client1", IsRequester: true}); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	var ack map[string]bool
	conn.ReadJSON(&ack)

	if err := conn.WriteJSON(wire.Envelope{Requests: []wire.Request{
		{Rid: 1, Method: wire.MethodList, Path: "/data"},
	}}); err != nil {
		t.Fatalf("write list: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env wire.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if len(env.Responses) != 1 || env.Responses[0].Rid != 1 {
		t.Fatalf("responses = %+v", env.Responses)
	}
}
