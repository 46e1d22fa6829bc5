package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/RezaEskandarii/autopilot/internal/scheduler"
	"github.com/RezaEskandarii/autopilot/internal/state"
	"github.com/RezaEskandarii/autopilot/types"
)

const (
	PageSize = 15

	shutdownTimeout = 5 * time.Second
)

// ActionReader is the read-only part of store.StateStore the status API needs.
type ActionReader interface {
	ListActions(ctx context.Context, page int, pageSize int, status state.ActionStatus) (*types.PaginationResult[types.QueuedAction], error)
	CountAllActionsGroupedByStatus(ctx context.Context) (map[state.ActionStatus]int, error)
}

type StatusProvider interface {
	Status() scheduler.Status
}

// HttpRouteHandler serves the read-only status API. When TokenHash is set every route
// except /healthz requires a bearer token matching the bcrypt hash.
type HttpRouteHandler struct {
	actions   ActionReader
	status    StatusProvider
	logger    *slog.Logger
	TokenHash string
	Port      uint
}

func NewRouteHandler(actions ActionReader, status StatusProvider, logger *slog.Logger, tokenHash string, port uint) *HttpRouteHandler {
	return &HttpRouteHandler{
		actions:   actions,
		status:    status,
		logger:    logger.With("component", "status_api"),
		TokenHash: tokenHash,
		Port:      port,
	}
}

func (handler *HttpRouteHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handler.handleHealth)
	mux.HandleFunc("GET /status", authMiddleware(handler.TokenHash, handler.handleStatus))
	mux.HandleFunc("GET /actions", authMiddleware(handler.TokenHash, handler.handleActions))
	mux.HandleFunc("GET /actions/stats", authMiddleware(handler.TokenHash, handler.handleStats))
	return mux
}

// Serve listens until ctx is cancelled, then shuts the server down gracefully.
func (handler *HttpRouteHandler) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", handler.Port),
		Handler:           handler.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		handler.logger.Info("status API listening", "addr", srv.Addr, "auth", handler.TokenHash != "")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (handler *HttpRouteHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (handler *HttpRouteHandler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, handler.status.Status())
}

func (handler *HttpRouteHandler) handleActions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pageNumber := getPageNumber(r)
	statusParam := strings.TrimSpace(r.URL.Query().Get("status"))
	status := state.ActionStatus(statusParam)

	if status != "" && !status.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", statusParam))
		return
	}

	actions, err := handler.actions.ListActions(ctx, pageNumber, PageSize, status)
	if err != nil {
		handler.logger.Error("failed to list actions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list actions")
		return
	}

	counts, err := handler.actions.CountAllActionsGroupedByStatus(ctx)
	if err != nil {
		handler.logger.Error("failed to count actions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to count actions")
		return
	}

	data := NewPaginatedDataMap(*actions).
		Add("statuses", state.AllStatuses).
		Add("current_status", status).
		Add("counts", counts)

	writeJSON(w, http.StatusOK, data.Data)
}

func (handler *HttpRouteHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := handler.actions.CountAllActionsGroupedByStatus(r.Context())
	if err != nil {
		handler.logger.Error("failed to count actions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to count actions")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
