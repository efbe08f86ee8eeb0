package signal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"castmix/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTarget struct {
	mu      sync.Mutex
	events  []domain.PointerEvent
	rect    domain.Rect
	handles bool
}

func (f *fakeTarget) HandlePointer(ev domain.PointerEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	if f.handles && ev.Phase == domain.PointerMove {
		f.rect.X = int(ev.X)
		f.rect.Y = int(ev.Y)
	}
	return f.handles
}

func (f *fakeTarget) InsetRect() domain.Rect {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rect
}

func (f *fakeTarget) Layout() domain.LayoutMode { return domain.LayoutInset }

func (f *fakeTarget) phases() []domain.PointerPhase {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PointerPhase, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Phase)
	}
	return out
}

func newTestServer(t *testing.T, target PointerTarget, cfg Config) (*PointerServer, string) {
	t.Helper()
	srv := NewPointerServer(target, cfg, zap.NewNop().Sugar())
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readInset(t *testing.T, conn *websocket.Conn) InsetPayload {
	t.Helper()
	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeInset, msg.Type)
	var p InsetPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	return p
}

func sendPointer(t *testing.T, conn *websocket.Conn, phase domain.PointerPhase, x, y float64) {
	t.Helper()
	payload, err := json.Marshal(domain.PointerEvent{X: x, Y: y, Phase: phase, DisplayW: 1280, DisplayH: 720})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePointer, Payload: payload}))
}

func TestPointerServer_GreetsWithCurrentInset(t *testing.T) {
	target := &fakeTarget{rect: domain.Rect{X: 10, Y: 20, W: 320, H: 180}}
	_, url := newTestServer(t, target, DefaultConfig())

	conn := dial(t, url+"?session_id=op-1")
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeInset, msg.Type)
	assert.Equal(t, "op-1", msg.SessionID)

	var p InsetPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, target.rect, p.Rect)
	assert.Equal(t, domain.LayoutInset, p.Layout)
}

func TestPointerServer_RelaysDrag(t *testing.T) {
	target := &fakeTarget{handles: true, rect: domain.Rect{W: 320, H: 180}}
	_, url := newTestServer(t, target, DefaultConfig())
	conn := dial(t, url)
	readInset(t, conn)

	sendPointer(t, conn, domain.PointerDown, 5, 5)
	assert.True(t, readInset(t, conn).Handled)

	sendPointer(t, conn, domain.PointerMove, 100, 50)
	p := readInset(t, conn)
	assert.Equal(t, 100, p.Rect.X)
	assert.Equal(t, 50, p.Rect.Y)

	sendPointer(t, conn, domain.PointerUp, 100, 50)
	readInset(t, conn)

	assert.Equal(t, []domain.PointerPhase{domain.PointerDown, domain.PointerMove, domain.PointerUp}, target.phases())
}

func TestPointerServer_CoalescesMovesButNeverDropsPresses(t *testing.T) {
	target := &fakeTarget{handles: true}
	cfg := DefaultConfig()
	cfg.MessagesPerSecond = 0.001
	cfg.Burst = 1
	srv, url := newTestServer(t, target, cfg)
	conn := dial(t, url)
	readInset(t, conn)

	sendPointer(t, conn, domain.PointerDown, 1, 1)
	sendPointer(t, conn, domain.PointerMove, 2, 2)
	sendPointer(t, conn, domain.PointerMove, 3, 3)
	sendPointer(t, conn, domain.PointerMove, 4, 4)
	sendPointer(t, conn, domain.PointerUp, 4, 4)

	// down, first move and up each produce a broadcast
	for i := 0; i < 3; i++ {
		readInset(t, conn)
	}
	assert.Equal(t, []domain.PointerPhase{domain.PointerDown, domain.PointerMove, domain.PointerUp}, target.phases())
	assert.Equal(t, uint64(2), srv.DroppedMoves())
}

func TestPointerServer_UnclaimedPressGetsReply(t *testing.T) {
	target := &fakeTarget{handles: false}
	_, url := newTestServer(t, target, DefaultConfig())
	conn := dial(t, url)
	readInset(t, conn)

	sendPointer(t, conn, domain.PointerDown, 1, 1)
	assert.False(t, readInset(t, conn).Handled)
}

func TestPointerServer_MalformedMessagesKeepConnection(t *testing.T) {
	_, url := newTestServer(t, &fakeTarget{}, DefaultConfig())
	conn := dial(t, url)
	readInset(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: "offer"}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Contains(t, string(msg.Payload), "unknown message type")

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePointer, Payload: json.RawMessage(`{"phase":"hover"}`)}))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)
}

func TestPointerServer_DisconnectMidDragEndsDrag(t *testing.T) {
	target := &fakeTarget{handles: true}
	srv, url := newTestServer(t, target, DefaultConfig())
	conn := dial(t, url)
	readInset(t, conn)

	sendPointer(t, conn, domain.PointerDown, 1, 1)
	readInset(t, conn)
	conn.Close()

	assert.Eventually(t, func() bool {
		phases := target.phases()
		return len(phases) == 2 && phases[1] == domain.PointerLeave
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPointerServer_BroadcastReachesEverySession(t *testing.T) {
	target := &fakeTarget{rect: domain.Rect{X: 7, W: 10, H: 10}}
	srv, url := newTestServer(t, target, DefaultConfig())
	a := dial(t, url+"?session_id=a")
	b := dial(t, url+"?session_id=b")
	readInset(t, a)
	readInset(t, b)
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 2 }, time.Second, 10*time.Millisecond)

	srv.BroadcastInset()
	assert.Equal(t, 7, readInset(t, a).Rect.X)
	assert.Equal(t, 7, readInset(t, b).Rect.X)
}

func TestPointerServer_RejectsForeignOrigin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://studio.example"}
	_, url := newTestServer(t, &fakeTarget{}, cfg)

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://studio.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

type endlessReader struct {
	err error
}

func (r *endlessReader) ReadMessage() (int, []byte, error) {
	if r.err != nil {
		return 0, nil, r.err
	}
	return websocket.TextMessage, []byte(`{"type":"pointer"}`), nil
}

func (r *endlessReader) SetReadDeadline(time.Time) error { return nil }

func TestReadMessagesStopsWhenHandlerLeaves(t *testing.T) {
	messages := make(chan []byte) // nobody consumes
	errs := make(chan error, 1)
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		readMessages(&endlessReader{}, time.Second, messages, errs, done)
		close(finished)
	}()

	close(done)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("reader goroutine still blocked after done was closed")
	}
	assert.Empty(t, errs)
}

func TestReadMessagesReportsReadError(t *testing.T) {
	errs := make(chan error, 1)
	readErr := &websocket.CloseError{Code: websocket.CloseNormalClosure}

	readMessages(&endlessReader{err: readErr}, time.Second, make(chan []byte), errs, make(chan struct{}))
	assert.Equal(t, readErr, <-errs)
}
