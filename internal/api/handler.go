package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/activity"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/wallet"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	activity *activity.Service
	wallets  *wallet.Service
	store    domain.CacheStore
	bus      domain.EventBus
	version  string
	logger   *slog.Logger
}

// NewHandler creates a new API handler. wallets and eventBus may be nil;
// their routes then answer 503.
func NewHandler(svc *activity.Service, wallets *wallet.Service, store domain.CacheStore, eventBus domain.EventBus, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		activity: svc,
		wallets:  wallets,
		store:    store,
		bus:      eventBus,
		version:  version,
		logger:   logger,
	}
}

// GetTickerActivity handles GET /tickers/{ticker}/activity.
func (h *Handler) GetTickerActivity(w http.ResponseWriter, r *http.Request) {
	act, err := h.activity.GetTickerActivity(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, act)
}

// GetTickerActivityByType handles GET /tickers/{ticker}/activity/{kind}.
func (h *Handler) GetTickerActivityByType(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	force, err := boolParam(q.Get("force"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.activity.GetTickerActivityByType(r.Context(), chi.URLParam(r, "ticker"), kind, activity.Options{
		Limit:        limit,
		ForceRefresh: force,
		Filter:       q.Get("filter"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RefreshRequestBody is the optional body of POST /tickers/{ticker}/refresh.
type RefreshRequestBody struct {
	Kinds []string `json:"kinds,omitempty"`
}

// RefreshTicker handles POST /tickers/{ticker}/refresh by publishing a
// refresh request for the worker.
func (h *Handler) RefreshTicker(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	ticker := domain.NormalizeTicker(chi.URLParam(r, "ticker"))
	if ticker == "" {
		h.writeError(w, r, domain.ErrInvalidInput)
		return
	}

	var body RefreshRequestBody
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	req := domain.RefreshRequest{Ticker: ticker, RequestID: GetRequestID(r.Context())}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	for _, name := range body.Kinds {
		kind, err := domain.ParseKind(name)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		req.Kinds = append(req.Kinds, kind)
	}

	if err := bus.PublishJSON(r.Context(), h.bus, domain.TopicRefreshRequested, req); err != nil {
		h.logger.Error("failed to publish refresh request",
			"ticker", ticker,
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, req)
}

// GetWalletBalance handles GET /wallets/{address}/balance.
func (h *Handler) GetWalletBalance(w http.ResponseWriter, r *http.Request) {
	if h.wallets == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "wallet service not available",
		})
		return
	}
	force, err := boolParam(r.URL.Query().Get("force"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.wallets.Balance(r.Context(), chi.URLParam(r, "address"), force)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetWalletTransactions handles GET /wallets/{address}/transactions.
func (h *Handler) GetWalletTransactions(w http.ResponseWriter, r *http.Request) {
	if h.wallets == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "wallet service not available",
		})
		return
	}
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	force, err := boolParam(q.Get("force"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.wallets.Transactions(r.Context(), chi.URLParam(r, "address"), limit, force)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListKinds returns the kinds read by the full aggregate.
func (h *Handler) ListKinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"kinds": h.activity.Kinds(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.Join(domain.ErrInvalidInput, errors.New("limit must be a non-negative integer"))
	}
	return n, nil
}

func boolParam(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, errors.Join(domain.ErrInvalidInput, errors.New("force must be a boolean"))
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
