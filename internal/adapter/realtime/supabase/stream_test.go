package supabase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"lead-ledger/config"
	"lead-ledger/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	statuses []string
	events   []domain.ChangeEvent
}

func (r *recordingSink) OnStatus(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recordingSink) OnEvent(event domain.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// phoenixServer answers a join with joinStatus and then runs script.
func phoenixServer(t *testing.T, joinStatus string, script func(conn *websocket.Conn, topic string)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/realtime/v1/websocket", r.URL.Path)
		assert.Equal(t, "anon-key", r.URL.Query().Get("apikey"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var join map[string]any
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		assert.Equal(t, "phx_join", join["event"])
		topic, _ := join["topic"].(string)

		_ = conn.WriteJSON(map[string]any{
			"topic": topic, "event": "phx_reply", "ref": join["ref"],
			"payload": map[string]any{"status": joinStatus, "response": map[string]any{}},
		})
		script(conn, topic)
	}))
}

func newTestStream(t *testing.T, srv *httptest.Server) *Stream {
	t.Helper()
	s, err := New(config.SupabaseConfig{URL: srv.URL, APIKey: "anon-key", HeartbeatInterval: time.Hour}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestStream_ForwardsChangesUntilClose(t *testing.T) {
	srv := phoenixServer(t, "ok", func(conn *websocket.Conn, topic string) {
		_ = conn.WriteJSON(map[string]any{
			"topic": topic, "event": "postgres_changes", "ref": nil,
			"payload": map[string]any{"data": map[string]any{
				"table": "lead_requests", "type": "UPDATE",
				"record": map[string]any{"id": "r-1", "status": "approved"},
			}},
		})
		_ = conn.WriteJSON(map[string]any{
			"topic": topic, "event": "postgres_changes", "ref": nil,
			"payload": map[string]any{"data": map[string]any{
				"table": "lead_requests", "type": "DELETE",
				"old_record": map[string]any{"id": "r-2"},
			}},
		})
		_ = conn.WriteJSON(map[string]any{"topic": topic, "event": "phx_close", "ref": nil, "payload": map[string]any{}})
	})
	defer srv.Close()

	s := newTestStream(t, srv)
	sink := &recordingSink{}
	err := s.Stream(context.Background(), domain.TableLeadRequests, sink)
	require.NoError(t, err)

	assert.Equal(t, []string{"SUBSCRIBED", "CLOSED"}, sink.statuses)
	require.Len(t, sink.events, 2)
	assert.Equal(t, domain.OperationUpdate, sink.events[0].Operation)
	assert.Equal(t, "approved", sink.events[0].Record["status"])
	assert.Equal(t, domain.OperationDelete, sink.events[1].Operation)
	assert.Equal(t, "r-2", sink.events[1].RecordID())
}

func TestStream_JoinRejected(t *testing.T) {
	srv := phoenixServer(t, "error", func(conn *websocket.Conn, _ string) {
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	sink := &recordingSink{}
	err := newTestStream(t, srv).Stream(context.Background(), domain.TableWallets, sink)
	assert.ErrorContains(t, err, "rejected")
	assert.Equal(t, []string{"CHANNEL_ERROR"}, sink.statuses)
}

func TestStream_ChannelError(t *testing.T) {
	srv := phoenixServer(t, "ok", func(conn *websocket.Conn, topic string) {
		_ = conn.WriteJSON(map[string]any{"topic": topic, "event": "phx_error", "ref": nil, "payload": map[string]any{}})
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	sink := &recordingSink{}
	err := newTestStream(t, srv).Stream(context.Background(), domain.TableWallets, sink)
	assert.Error(t, err)
	assert.Equal(t, []string{"SUBSCRIBED", "CHANNEL_ERROR"}, sink.statuses)
}

func TestStream_HeartbeatTimeout(t *testing.T) {
	srv := phoenixServer(t, "ok", func(conn *websocket.Conn, _ string) {
		// Never acknowledge heartbeats.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	s := newTestStream(t, srv)
	s.heartbeat = 20 * time.Millisecond

	sink := &recordingSink{}
	err := s.Stream(context.Background(), domain.TableWallets, sink)
	assert.ErrorIs(t, err, errHeartbeatTimeout)
	assert.Equal(t, []string{"SUBSCRIBED", "TIMED_OUT"}, sink.statuses)
}

func TestStream_StopsOnCancel(t *testing.T) {
	srv := phoenixServer(t, "ok", func(conn *websocket.Conn, _ string) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sink := &recordingSink{}
	err := newTestStream(t, srv).Stream(ctx, domain.TableWallets, sink)
	assert.NoError(t, err)
	assert.Equal(t, []string{"SUBSCRIBED"}, sink.statuses)
}

func TestWebsocketURL(t *testing.T) {
	got, err := websocketURL("https://abc.supabase.co/", "key")
	require.NoError(t, err)
	assert.Equal(t, "wss://abc.supabase.co/realtime/v1/websocket?apikey=key&vsn=1.0.0", got)

	got, err = websocketURL("http://localhost:54321", "key")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:54321/realtime/v1/websocket?apikey=key&vsn=1.0.0", got)

	_, err = websocketURL("ftp://x", "key")
	assert.Error(t, err)
}

func TestStream_ChannelTopic(t *testing.T) {
	s, err := New(config.SupabaseConfig{URL: "https://abc.supabase.co"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "realtime:public:wallets", s.ChannelTopic(domain.TableWallets))
	assert.Equal(t, "supabase", s.Name())
}
