package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/legaldesk/internal/database"
)

// healthCheckTimeout はDB疎通確認のタイムアウト。
const healthCheckTimeout = 3 * time.Second

// NewHealthHandler はヘルスチェックのハンドラーを返す。
// pingerがnilの場合はDB疎通確認を行わない。
// GET /health
func NewHealthHandler(pinger database.Pinger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pinger != nil {
			if err := database.CheckHealth(r.Context(), pinger, healthCheckTimeout); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
