package gateway

import (
	"context"
	"net/http"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/auth"
	"github.com/aryanseth9795/stocklabs-backend/cmd/relay/internal/hub"
)

// Handler upgrades /ws requests. The credential is checked before the
// upgrade; a missing or bad one admits the connection as a guest.
type Handler struct {
	ctx      context.Context
	hub      *hub.Hub
	verifier *auth.Verifier
	logger   *zap.Logger
	opts     Options
}

// NewHandler ties every connection's lifetime to ctx rather than to the
// hijacked request.
func NewHandler(ctx context.Context, h *hub.Hub, verifier *auth.Verifier, opts Options, logger *zap.Logger) *Handler {
	return &Handler{ctx: ctx, hub: h, verifier: verifier, logger: logger, opts: opts}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := h.verifier.Identity(r)

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	client := NewClient(conn, h.hub, h.logger, h.opts)
	h.hub.Register(client, identity)
	client.Start(h.ctx)
}
