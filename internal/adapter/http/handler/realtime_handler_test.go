package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"
	"lead-ledger/internal/realtime"
	"lead-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// feedStream opens immediately and forwards whatever the test pushes on feed.
type feedStream struct {
	feed chan domain.ChangeEvent
	err  error
}

func (s *feedStream) Name() string { return "feed" }

func (s *feedStream) Stream(ctx context.Context, _ string, sink ports.StreamSink) error {
	if s.err != nil {
		sink.OnStatus("CHANNEL_ERROR")
		return s.err
	}
	sink.OnStatus("SUBSCRIBED")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-s.feed:
			sink.OnEvent(event)
		}
	}
}

// countingSubscriber records Unsubscribe calls made by the handler.
type countingSubscriber struct {
	*realtime.Layer
	unsubscribed atomic.Int32
}

func (s *countingSubscriber) Unsubscribe(sub *realtime.Subscription) {
	s.Layer.Unsubscribe(sub)
	s.unsubscribed.Add(1)
}

func newSubscriber(t *testing.T, stream ports.ChangeStream) *countingSubscriber {
	t.Helper()
	layer := realtime.NewLayer(stream, realtime.Options{
		BaseDelay:    time.Millisecond,
		MaxDelay:     time.Millisecond,
		MaxRetries:   1,
		RetryEnabled: false,
	}, zerolog.Nop(), nil)
	t.Cleanup(layer.Close)
	return &countingSubscriber{Layer: layer}
}

func dialRealtime(t *testing.T, srv *httptest.Server, topic, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/realtime/" + topic + "?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func leadEvent(requester uuid.UUID, status string) domain.ChangeEvent {
	return domain.ChangeEvent{
		Table:     domain.TableLeadRequests,
		Operation: domain.OperationUpdate,
		Record: map[string]any{
			"id":           uuid.NewString(),
			"requester_id": requester.String(),
			"status":       status,
		},
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.ChangeEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event domain.ChangeEvent
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestRealtime_RequesterSeesOnlyOwnRequests(t *testing.T) {
	stream := &feedStream{feed: make(chan domain.ChangeEvent)}
	env := newTestEnv(t, newSubscriber(t, stream))
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialRealtime(t, srv, domain.TableLeadRequests, requesterToken)

	stream.feed <- leadEvent(uuid.New(), "approved")
	stream.feed <- leadEvent(testRequester.ID, "rejected")

	event := readEvent(t, conn)
	assert.Equal(t, testRequester.ID.String(), event.RecordField("requester_id"))
	assert.Equal(t, "rejected", event.RecordField("status"))
}

func TestRealtime_AdminSeesEverything(t *testing.T) {
	stream := &feedStream{feed: make(chan domain.ChangeEvent)}
	env := newTestEnv(t, newSubscriber(t, stream))
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialRealtime(t, srv, domain.TableLeadRequests, adminToken)

	other := uuid.New()
	stream.feed <- leadEvent(other, "approved")

	event := readEvent(t, conn)
	assert.Equal(t, other.String(), event.RecordField("requester_id"))
}

func TestRealtime_TransactionsFilteredByOwnWallet(t *testing.T) {
	stream := &feedStream{feed: make(chan domain.ChangeEvent)}
	env := newTestEnv(t, newSubscriber(t, stream))
	wallet := newWallet(testRequester.ID, 0)
	env.ledger.EXPECT().GetWalletByOwner(gomock.Any(), testRequester, testRequester.ID).Return(wallet, nil)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialRealtime(t, srv, domain.TableTransactions, requesterToken)

	txEvent := func(walletID uuid.UUID, amount float64) domain.ChangeEvent {
		return domain.ChangeEvent{
			Table:     domain.TableTransactions,
			Operation: domain.OperationInsert,
			Record:    map[string]any{"id": uuid.NewString(), "wallet_id": walletID.String(), "amount": amount},
		}
	}
	stream.feed <- txEvent(uuid.New(), 1)
	stream.feed <- txEvent(wallet.ID, 2)

	event := readEvent(t, conn)
	assert.Equal(t, wallet.ID.String(), event.RecordField("wallet_id"))
	assert.EqualValues(t, 2, event.Record["amount"])
}

func TestRealtime_UnknownTopic(t *testing.T) {
	env := newTestEnv(t, newSubscriber(t, &feedStream{feed: make(chan domain.ChangeEvent)}))

	w := env.do(http.MethodGet, "/api/v1/realtime/users", requesterToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRealtime_TransactionsWithoutWallet(t *testing.T) {
	env := newTestEnv(t, newSubscriber(t, &feedStream{feed: make(chan domain.ChangeEvent)}))
	env.ledger.EXPECT().GetWalletByOwner(gomock.Any(), testRequester, testRequester.ID).
		Return(nil, apperror.ErrNotFound("wallet"))

	w := env.do(http.MethodGet, "/api/v1/realtime/transactions", requesterToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRealtime_ConnectionErrorClosesSocket(t *testing.T) {
	stream := &feedStream{err: errors.New("broker unavailable")}
	sub := newSubscriber(t, stream)
	env := newTestEnv(t, sub)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialRealtime(t, srv, domain.TableWallets, requesterToken)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
	assert.Equal(t, apperror.CodeConnection, closeErr.Text)

	assert.Eventually(t, func() bool { return sub.unsubscribed.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRealtime_ClientDisconnectUnsubscribes(t *testing.T) {
	stream := &feedStream{feed: make(chan domain.ChangeEvent)}
	sub := newSubscriber(t, stream)
	env := newTestEnv(t, sub)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialRealtime(t, srv, domain.TableWallets, requesterToken)
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	assert.Eventually(t, func() bool { return sub.unsubscribed.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}
