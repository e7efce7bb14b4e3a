// README: Fire-and-forget notification gateway. Delivery failures are
// logged and never surface to the calling state transition.
package notify

import (
	"context"

	"go.uber.org/zap"

	"hail/internal/types"
)

type Gateway interface {
	Notify(ctx context.Context, userID types.ID, kind string, payload map[string]any)
}

// PushGateway tries the user's live WebSocket session first and falls back
// to FCM.
type PushGateway struct {
	ws  *WSRegistry
	fcm *FCMClient
	log *zap.Logger
}

func NewPushGateway(ws *WSRegistry, fcm *FCMClient, log *zap.Logger) *PushGateway {
	return &PushGateway{ws: ws, fcm: fcm, log: log}
}

func (g *PushGateway) Notify(ctx context.Context, userID types.ID, kind string, payload map[string]any) {
	msg := Message{Kind: kind, Payload: payload}
	if g.ws != nil {
		if err := g.ws.Send(userID, msg); err == nil {
			return
		}
	}
	if g.fcm != nil {
		if err := g.fcm.Push(ctx, userID, msg); err != nil && g.log != nil {
			g.log.Warn("push delivery failed",
				zap.String("user_id", string(userID)),
				zap.String("kind", kind),
				zap.Error(err))
		}
		return
	}
	if g.log != nil {
		g.log.Debug("notification dropped, no channel configured",
			zap.String("user_id", string(userID)),
			zap.String("kind", kind))
	}
}

type Message struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
}
