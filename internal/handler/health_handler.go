package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger は依存先の疎通を確認する。*sql.DBが実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// BackendHealthChecker はバックエンドの疎通を確認する。*backend.Serviceが実装する。
type BackendHealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db      Pinger
	backend BackendHealthChecker
	timeout time.Duration
}

// NewHealthHandler はHealthHandlerを生成する。nilの依存先は確認しない。
func NewHealthHandler(db Pinger, backend BackendHealthChecker) *HealthHandler {
	return &HealthHandler{db: db, backend: backend, timeout: 3 * time.Second}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Backend  string `json:"backend"`
}

// Health はDBとバックエンドの疎通を確認する。
// DBに接続できない場合は503を返す。バックエンドの障害は状態として報告するのみ。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "skipped", Backend: "skipped"}
	status := http.StatusOK

	if h.db != nil {
		resp.Database = "ok"
		if err := h.db.PingContext(ctx); err != nil {
			slog.Error("database health check failed", slog.String("error", err.Error()))
			resp.Database = "unavailable"
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	if h.backend != nil {
		resp.Backend = "ok"
		if err := h.backend.Health(ctx); err != nil {
			slog.Warn("backend health check failed", slog.String("error", err.Error()))
			resp.Backend = "degraded"
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}
	}

	writeJSON(w, status, resp)
}
