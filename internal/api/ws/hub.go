package ws

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/auditchain/internal/server/middleware"
	redisstore "github.com/gosuda/auditchain/internal/store/redis"
)

type subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Hub manages WebSocket connections backed by Redis pub/sub.
type Hub struct {
	pubsub subscriber
}

// NewHub creates a new WebSocket hub. *redisstore.PubSub satisfies subscriber.
func NewHub(pubsub subscriber) *Hub {
	return &Hub{pubsub: pubsub}
}

// ServeEvents streams an organization's appended events as they are
// published on "audit:<orgID>". Each message is one JSON audit record.
// Delivery is best effort; clients catch up through the events listing.
func (h *Hub) ServeEvents(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if orgID == "" {
		http.Error(w, "missing organization", http.StatusBadRequest)
		return
	}
	if !middleware.CanAccessOrg(r.Context(), orgID) {
		http.Error(w, `{"title":"Forbidden","status":403,"detail":"organization access denied"}`, http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	// Clients never send; CloseRead handles pings and closes ctx on disconnect.
	ctx := conn.CloseRead(r.Context())

	messages, cleanup, err := h.pubsub.Subscribe(ctx, redisstore.AuditChannel(orgID))
	if err != nil {
		log.Error().Err(err).Str("org_id", orgID).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				log.Debug().Err(writeErr).Str("org_id", orgID).Msg("websocket write")
				return
			}
		}
	}
}
