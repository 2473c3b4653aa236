package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"lead-ledger/internal/core/domain"
	"lead-ledger/internal/core/ports"
	"lead-ledger/internal/realtime"
	"lead-ledger/pkg/apperror"
	"lead-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsBuffer       = 64
)

var errSlowConsumer = errors.New("consumer is not keeping up with the change stream")

// Subscriber is the part of the realtime layer the websocket bridge needs.
type Subscriber interface {
	Subscribe(topic string, handler realtime.Handler, opts ...realtime.SubscribeOption) (*realtime.Subscription, error)
	Unsubscribe(sub *realtime.Subscription)
}

// RealtimeHandler bridges realtime subscriptions to websocket clients.
type RealtimeHandler struct {
	subscriber Subscriber
	ledger     ports.LedgerService
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

func NewRealtimeHandler(subscriber Subscriber, ledger ports.LedgerService, log zerolog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		subscriber: subscriber,
		ledger:     ledger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Stream handles GET /api/v1/realtime/:topic. Every change event visible to the
// actor is written as one JSON text message until either side goes away.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	topic := c.Param("topic")

	visible, err := h.visibility(c.Request.Context(), actor, topic)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already replied.
		h.log.Warn().Err(err).Str("topic", topic).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.With().Str("topic", topic).Str("actor_id", actor.ID.String()).Logger()

	events := make(chan domain.ChangeEvent, wsBuffer)
	failed := make(chan error, 1)
	fail := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}

	sub, err := h.subscriber.Subscribe(topic, func(event domain.ChangeEvent) {
		if !visible(event) {
			return
		}
		select {
		case events <- event:
		default:
			fail(errSlowConsumer)
		}
	}, realtime.WithErrorHandler(func(_ string, err error) {
		fail(err)
	}))
	if err != nil {
		closeWith(conn, websocket.CloseTryAgainLater, err)
		return
	}
	defer h.subscriber.Unsubscribe(sub)
	log.Debug().Msg("websocket subscribed")

	// Drain client frames so control messages are processed and a disconnect is noticed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case event := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case err := <-failed:
			log.Warn().Err(err).Msg("closing websocket")
			closeWith(conn, websocket.CloseTryAgainLater, err)
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-gone:
			log.Debug().Msg("websocket client disconnected")
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// visibility returns the filter applied to events of topic for actor.
// Requesters only see records they own.
func (h *RealtimeHandler) visibility(ctx context.Context, actor domain.Actor, topic string) (func(domain.ChangeEvent) bool, error) {
	switch topic {
	case domain.TableWallets, domain.TableTransactions, domain.TableLeadRequests:
	default:
		return nil, apperror.ErrNotFound("topic")
	}
	if actor.IsAdmin() {
		return func(domain.ChangeEvent) bool { return true }, nil
	}

	own := actor.ID.String()
	switch topic {
	case domain.TableLeadRequests:
		return func(e domain.ChangeEvent) bool { return e.RecordField("requester_id") == own }, nil
	case domain.TableWallets:
		return func(e domain.ChangeEvent) bool { return e.RecordField("owner_id") == own }, nil
	}

	wallet, err := h.ledger.GetWalletByOwner(ctx, actor, actor.ID)
	if err != nil {
		return nil, err
	}
	walletID := wallet.ID.String()
	return func(e domain.ChangeEvent) bool { return e.RecordField("wallet_id") == walletID }, nil
}

func closeWith(conn *websocket.Conn, code int, err error) {
	reason := apperror.Code(err)
	if reason == "" {
		reason = err.Error()
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}
