package maintenance

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"blog-serverless/internal/httpx"
	"blog-serverless/internal/observability"
)

// CleanupHandler lets an external scheduler trigger the sweepers when the
// process does not live long enough to run them itself.
type CleanupHandler struct {
	runner     *Runner
	logger     *zap.Logger
	cronSecret string
}

func NewCleanupHandler(runner *Runner, logger *zap.Logger, cronSecret string) *CleanupHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CleanupHandler{
		runner:     runner,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		httpx.WriteError(w, http.StatusNotFound, "not found")
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, secret, _ := strings.Cut(authHeader, " ")
	if !strings.EqualFold(scheme, "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(secret)), []byte(h.cronSecret)) != 1 {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	results, err := h.runner.RunOnce(r.Context())
	if err != nil {
		observability.CaptureError(r, err)
		h.logger.Error("maintenance_cleanup_failed", zap.Error(err))
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  "cleanup failed",
			"result": results,
		})
		return
	}

	h.logger.Info("maintenance_cleanup_completed", zap.Any("result", results))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": results,
	})
}
