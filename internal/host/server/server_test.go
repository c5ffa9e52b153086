package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/voltray/voltray/pkg/protocol"
)

// fakeController is an in-memory VolumeController.
type fakeController struct {
	mu     sync.Mutex
	volume float64
	err    error
}

func (f *fakeController) Get(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume, f.err
}

func (f *fakeController) Set(ctx context.Context, volume float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.volume = volume
	return f.volume, nil
}

func (f *fakeController) Up(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.volume += 0.05
	return f.volume, nil
}

func (f *fakeController) Down(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.volume -= 0.05
	return f.volume, nil
}

func (f *fakeController) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeController) setVolume(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = v
}

func startTestServer(t *testing.T, ctrl VolumeController) *Server {
	t.Helper()

	s := New(zaptest.NewLogger(t), ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
	return s
}

func dialTestConn(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendRequest(t *testing.T, conn *websocket.Conn, op string, volume float64) string {
	t.Helper()

	req := protocol.Request{
		Type:   protocol.TypeRequest,
		ID:     uuid.NewString(),
		Op:     op,
		Volume: volume,
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write request: %v", err)
	}
	return req.ID
}

// readResponse skips interleaved events and returns the next response.
func readResponse(t *testing.T, conn *websocket.Conn) protocol.Response {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read message: %v", err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Type != protocol.TypeResponse {
			continue
		}
		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		return resp
	}
}

// readEvent skips responses and returns the next event.
func readEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read message: %v", err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Type != protocol.TypeEvent {
			continue
		}
		var ev protocol.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return ev
	}
}

func TestServer_GetVolume(t *testing.T) {
	s := startTestServer(t, &fakeController{volume: 0.42})
	conn := dialTestConn(t, s)

	id := sendRequest(t, conn, protocol.OpGetVolume, 0)
	resp := readResponse(t, conn)

	if resp.ID != id {
		t.Errorf("expected response ID %s, got %s", id, resp.ID)
	}
	if resp.Error != "" {
		t.Errorf("expected no error, got %q", resp.Error)
	}
	if resp.Volume != 0.42 {
		t.Errorf("expected volume 0.42, got %v", resp.Volume)
	}
}

func TestServer_VolumeUp(t *testing.T) {
	s := startTestServer(t, &fakeController{volume: 0.5})
	conn := dialTestConn(t, s)

	sendRequest(t, conn, protocol.OpVolumeUp, 0)
	resp := readResponse(t, conn)

	if resp.Error != "" {
		t.Fatalf("expected no error, got %q", resp.Error)
	}
	if resp.Volume != 0.55 {
		t.Errorf("expected volume 0.55, got %v", resp.Volume)
	}
}

func TestServer_SetVolume(t *testing.T) {
	s := startTestServer(t, &fakeController{volume: 0.5})
	conn := dialTestConn(t, s)

	sendRequest(t, conn, protocol.OpSetVolume, 0.3)
	resp := readResponse(t, conn)

	if resp.Error != "" {
		t.Fatalf("expected no error, got %q", resp.Error)
	}
	if resp.Volume != 0.3 {
		t.Errorf("expected volume 0.3, got %v", resp.Volume)
	}
}

func TestServer_ControllerError_ReturnedInResponse(t *testing.T) {
	ctrl := &fakeController{volume: 0.5}
	ctrl.setErr(errors.New("device gone"))
	s := startTestServer(t, ctrl)
	conn := dialTestConn(t, s)

	sendRequest(t, conn, protocol.OpVolumeUp, 0)
	resp := readResponse(t, conn)
	if resp.Error != "device gone" {
		t.Errorf("expected error %q, got %q", "device gone", resp.Error)
	}

	// The connection survives a failed operation.
	ctrl.setErr(nil)
	sendRequest(t, conn, protocol.OpGetVolume, 0)
	resp = readResponse(t, conn)
	if resp.Error != "" {
		t.Errorf("expected recovery, got error %q", resp.Error)
	}
}

func TestServer_UnknownOp(t *testing.T) {
	s := startTestServer(t, &fakeController{volume: 0.5})
	conn := dialTestConn(t, s)

	sendRequest(t, conn, "mute", 0)
	resp := readResponse(t, conn)
	if resp.Error != errUnknownOp {
		t.Errorf("expected error %q, got %q", errUnknownOp, resp.Error)
	}
}

func TestServer_MutationBroadcastsVolumeChanged(t *testing.T) {
	s := startTestServer(t, &fakeController{volume: 0.5})
	requester := dialTestConn(t, s)
	observer := dialTestConn(t, s)

	sendRequest(t, requester, protocol.OpVolumeUp, 0)
	readResponse(t, requester)

	ev := readEvent(t, observer)
	if ev.Event != protocol.EventVolumeChanged {
		t.Errorf("expected event %q, got %q", protocol.EventVolumeChanged, ev.Event)
	}
}

func TestServer_UnchangedVolume_NoDuplicateEvent(t *testing.T) {
	// No Run loop here: the test inspects the broadcast queue directly.
	s := New(zaptest.NewLogger(t), &fakeController{volume: 0.5})

	s.observe(0.5)
	s.observe(0.5)

	select {
	case msg := <-s.broadcast:
		// Exactly one event for the first observation.
		var ev protocol.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected one event for the first observation")
	}

	select {
	case <-s.broadcast:
		t.Fatal("unexpected second event for unchanged volume")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServer_RespondAfterSlowConsumerDrop_NoPanic(t *testing.T) {
	s := New(zaptest.NewLogger(t), &fakeController{volume: 0.5})

	// A client the hub has dropped for consuming too slowly: the
	// broadcast path closes its queue while readPump is still alive.
	c := &client{
		id:     "slow",
		server: s,
		send:   make(chan []byte, 1),
	}
	c.closeSend()

	// The client's in-flight request still reaches respond; it must be
	// dropped, not crash the daemon.
	c.respond(s.handleRequest(context.Background(), c.id, protocol.Request{
		ID: "req-1",
		Op: protocol.OpGetVolume,
	}))

	if c.trySend([]byte("late")) {
		t.Error("trySend should report false after closeSend")
	}
}

func TestServer_SlowConsumerQueue_ClosesOnce(t *testing.T) {
	s := New(zaptest.NewLogger(t), &fakeController{volume: 0.5})
	c := &client{
		id:     "slow",
		server: s,
		send:   make(chan []byte, 1),
	}

	// Both the broadcast path and the unregister path may drop the
	// same client; the second close must be a no-op.
	c.closeSend()
	c.closeSend()
}

func TestServer_UnknownOp_NotChargedAgainstRateLimit(t *testing.T) {
	s := New(zaptest.NewLogger(t), &fakeController{volume: 0.1})
	ctx := context.Background()

	for i := 0; i < mutationLimit; i++ {
		resp := s.handleRequest(ctx, "c1", protocol.Request{Op: "mute"})
		if resp.Error != errUnknownOp {
			t.Fatalf("expected %q, got %q", errUnknownOp, resp.Error)
		}
	}

	resp := s.handleRequest(ctx, "c1", protocol.Request{Op: protocol.OpVolumeUp})
	if resp.Error == errRateLimited {
		t.Error("unknown ops must not consume the mutation budget")
	}
	if resp.Error != "" {
		t.Errorf("expected successful mutation, got error %q", resp.Error)
	}
}

func TestServer_Shutdown_UnblocksObserveAndClosesClients(t *testing.T) {
	s := New(zaptest.NewLogger(t), &fakeController{volume: 0.5})
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	conn := dialTestConn(t, s)
	sendRequest(t, conn, protocol.OpGetVolume, 0)
	readResponse(t, conn)

	cancel()
	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	// observe must return even with nobody draining the broadcast
	// queue, no matter how many changes pile up.
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < cap(s.broadcast)+10; i++ {
			s.observe(float64(i))
		}
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("observe blocked after shutdown")
	}

	// The surviving client's queue was closed, so its connection winds
	// down instead of hanging.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestServer_RateLimit(t *testing.T) {
	s := startTestServer(t, &fakeController{volume: 0.1})
	conn := dialTestConn(t, s)

	limited := false
	for i := 0; i < mutationLimit+1; i++ {
		sendRequest(t, conn, protocol.OpVolumeUp, 0)
		resp := readResponse(t, conn)
		if resp.Error == errRateLimited {
			limited = true
			break
		}
	}
	if !limited {
		t.Errorf("expected a rate limited response within %d mutations", mutationLimit+1)
	}
}

func TestServer_Watch_DetectsExternalChange(t *testing.T) {
	ctrl := &fakeController{volume: 0.5}
	s := startTestServer(t, ctrl)
	conn := dialTestConn(t, s)

	// Prime change detection and drain the event the first
	// observation produces, so the event read below can only come
	// from the watcher.
	sendRequest(t, conn, protocol.OpGetVolume, 0)
	readResponse(t, conn)
	readEvent(t, conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Watch(ctx, 10*time.Millisecond)

	// A change nobody requested over IPC, as if made by hardware keys.
	ctrl.setVolume(0.77)

	ev := readEvent(t, conn)
	if ev.Event != protocol.EventVolumeChanged {
		t.Errorf("expected event %q, got %q", protocol.EventVolumeChanged, ev.Event)
	}
}
