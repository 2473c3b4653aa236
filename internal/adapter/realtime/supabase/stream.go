// Package supabase subscribes to Supabase Realtime postgres_changes over the
// Phoenix websocket protocol.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lead-ledger/config"
	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	eventJoin            = "phx_join"
	eventLeave           = "phx_leave"
	eventReply           = "phx_reply"
	eventError           = "phx_error"
	eventClose           = "phx_close"
	eventHeartbeat       = "heartbeat"
	eventPostgresChanges = "postgres_changes"

	heartbeatTopic = "phoenix"
)

var errHeartbeatTimeout = errors.New("supabase: heartbeat not acknowledged")

// message is one Phoenix frame.
type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changesPayload struct {
	Data struct {
		Table     string         `json:"table"`
		Type      string         `json:"type"`
		Record    map[string]any `json:"record"`
		OldRecord map[string]any `json:"old_record"`
	} `json:"data"`
}

// Stream implements ports.ChangeStream against a Supabase project.
type Stream struct {
	url       string
	schema    string
	heartbeat time.Duration
	dialer    *websocket.Dialer
	log       zerolog.Logger
}

func New(cfg config.SupabaseConfig, log zerolog.Logger) (*Stream, error) {
	wsURL, err := websocketURL(cfg.URL, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Stream{
		url:       wsURL,
		schema:    schema,
		heartbeat: heartbeat,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:       log,
	}, nil
}

// websocketURL converts a project URL into its realtime endpoint.
func websocketURL(raw, apiKey string) (string, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return "", fmt.Errorf("parse supabase url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported supabase url scheme %q", u.Scheme)
	}
	u.Path += "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Stream) Name() string { return "supabase" }

// ChannelTopic returns the Phoenix topic for a table.
func (s *Stream) ChannelTopic(table string) string {
	return fmt.Sprintf("realtime:%s:%s", s.schema, table)
}

// Stream joins the channel for table and forwards its changes. Only this
// goroutine writes to the connection.
func (s *Stream) Stream(ctx context.Context, table string, sink ports.StreamSink) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		sink.OnStatus("CHANNEL_ERROR")
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	topic := s.ChannelTopic(table)
	ref := 0
	nextRef := func() string {
		ref++
		return strconv.Itoa(ref)
	}

	joinRef := nextRef()
	join := map[string]any{
		"topic": topic,
		"event": eventJoin,
		"payload": map[string]any{
			"config": map[string]any{
				"postgres_changes": []map[string]any{
					{"event": "*", "schema": s.schema, "table": table},
				},
			},
		},
		"ref":      joinRef,
		"join_ref": joinRef,
	}
	if err := conn.WriteJSON(join); err != nil {
		sink.OnStatus("CHANNEL_ERROR")
		return fmt.Errorf("send join: %w", err)
	}

	frames := make(chan message)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			var msg message
			if err := conn.ReadJSON(&msg); err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- msg:
			case <-done:
				return
			}
		}
	}()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	pendingHeartbeat := ""

	for {
		select {
		case <-ctx.Done():
			leave := map[string]any{"topic": topic, "event": eventLeave, "payload": map[string]any{},
				"ref": nextRef(), "join_ref": joinRef}
			_ = conn.WriteJSON(leave)
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil

		case <-ticker.C:
			if pendingHeartbeat != "" {
				sink.OnStatus("TIMED_OUT")
				return errHeartbeatTimeout
			}
			pendingHeartbeat = nextRef()
			hb := map[string]any{"topic": heartbeatTopic, "event": eventHeartbeat,
				"payload": map[string]any{}, "ref": pendingHeartbeat}
			if err := conn.WriteJSON(hb); err != nil {
				sink.OnStatus("CHANNEL_ERROR")
				return fmt.Errorf("send heartbeat: %w", err)
			}

		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sink.OnStatus("CLOSED")
				return nil
			}
			sink.OnStatus("CHANNEL_ERROR")
			return fmt.Errorf("websocket read: %w", err)

		case msg := <-frames:
			if msg.Topic == heartbeatTopic {
				if msg.Event == eventReply && msg.Ref != nil && *msg.Ref == pendingHeartbeat {
					pendingHeartbeat = ""
				}
				continue
			}
			if msg.Topic != topic {
				continue
			}

			switch msg.Event {
			case eventReply:
				if msg.Ref == nil || *msg.Ref != joinRef {
					continue
				}
				var reply replyPayload
				if err := json.Unmarshal(msg.Payload, &reply); err != nil || reply.Status != "ok" {
					sink.OnStatus("CHANNEL_ERROR")
					return fmt.Errorf("join %s rejected: %s", topic, string(msg.Payload))
				}
				sink.OnStatus("SUBSCRIBED")

			case eventPostgresChanges:
				event, ok := decodeChange(msg.Payload, table)
				if !ok {
					s.log.Warn().Str("topic", topic).Msg("discarding malformed postgres_changes frame")
					continue
				}
				sink.OnEvent(event)

			case eventError:
				sink.OnStatus("CHANNEL_ERROR")
				return fmt.Errorf("channel %s error: %s", topic, string(msg.Payload))

			case eventClose:
				sink.OnStatus("CLOSED")
				return nil
			}
		}
	}
}

func decodeChange(raw json.RawMessage, table string) (domain.ChangeEvent, bool) {
	var p changesPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.ChangeEvent{}, false
	}
	op := domain.Operation(strings.ToUpper(p.Data.Type))
	record := p.Data.Record
	switch op {
	case domain.OperationInsert, domain.OperationUpdate:
	case domain.OperationDelete:
		if len(record) == 0 {
			record = p.Data.OldRecord
		}
	default:
		return domain.ChangeEvent{}, false
	}
	if p.Data.Table != "" {
		table = p.Data.Table
	}
	return domain.ChangeEvent{Table: table, Operation: op, Record: record}, true
}
