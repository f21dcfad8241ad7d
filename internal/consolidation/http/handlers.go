// Package http wires the consolidation JSON API.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/ledgerline/ledgerline/internal/consolidation"
	"github.com/ledgerline/ledgerline/internal/observability"
	"github.com/ledgerline/ledgerline/internal/platform/httpx"
)

// Handler exposes consolidation group CRUD and report endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *consolidation.Service
	cache     *consolidation.ViewCache
	metrics   *observability.Metrics
	validate  *validator.Validate
	rateLimit func(http.Handler) http.Handler
}

// NewHandler constructs the consolidation handler.
func NewHandler(logger *slog.Logger, service *consolidation.Service, cache *consolidation.ViewCache, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		cache:     cache,
		metrics:   metrics,
		validate:  validator.New(),
		rateLimit: httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
}

// MountRoutes registers the consolidation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/api/consolidation/groups", func(r chi.Router) {
		r.Get("/", h.handleListByOwner)
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
		r.Post("/{id}/entities/{entityID}", h.handleAddEntity)
		r.Delete("/{id}/entities/{entityID}", h.handleRemoveEntity)
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Get("/{id}/reports/{reportType}", h.handleReport)
			r.Get("/{id}/reports/{reportType}/export.csv", h.handleReportCSV)
		})
	})
	r.Get("/api/entities/{entityID}/consolidation-groups", h.handleListByEntity)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	group, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if group == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "consolidation group not found")
		return
	}
	httpx.JSON(w, http.StatusOK, group)
}

func (h *Handler) handleListByOwner(w http.ResponseWriter, r *http.Request) {
	ownerID, err := strconv.ParseInt(r.URL.Query().Get("owner"), 10, 64)
	if err != nil || ownerID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "owner query parameter is required")
		return
	}
	groups, err := h.service.ListByOwner(r.Context(), ownerID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, groups)
}

func (h *Handler) handleListByEntity(w http.ResponseWriter, r *http.Request) {
	entityID, ok := pathID(w, r, "entityID")
	if !ok {
		return
	}
	groups, err := h.service.ListByEntity(r.Context(), entityID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, groups)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	spec, err := req.toSpec()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	group, err := h.service.Create(r.Context(), spec)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.bustCache(r.Context())
	httpx.JSON(w, http.StatusCreated, group)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateGroupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	update, err := req.toUpdate()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	group, err := h.service.Update(r.Context(), id, update)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if group == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "consolidation group not found")
		return
	}
	h.bustCache(r.Context())
	httpx.JSON(w, http.StatusOK, group)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	h.bustCache(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAddEntity(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entityID, ok := pathID(w, r, "entityID")
	if !ok {
		return
	}
	if err := h.service.AddEntity(r.Context(), groupID, entityID); err != nil {
		h.respondError(w, err)
		return
	}
	h.bustCache(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemoveEntity(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entityID, ok := pathID(w, r, "entityID")
	if !ok {
		return
	}
	if err := h.service.RemoveEntity(r.Context(), groupID, entityID); err != nil {
		h.respondError(w, err)
		return
	}
	h.bustCache(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.loadReport(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

// loadReport parses the report request and serves it through the view
// cache. Cache misses run the full orchestrator, which also touches the
// group's last_run timestamp.
func (h *Handler) loadReport(r *http.Request) (*consolidation.ConsolidatedReport, error) {
	groupID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || groupID <= 0 {
		return nil, errInvalidID
	}
	reportType, err := consolidation.ParseReportType(chi.URLParam(r, "reportType"))
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	start, err := parseDateParam(q.Get("start"))
	if err != nil {
		return nil, err
	}
	end, err := parseDateParam(q.Get("end"))
	if err != nil {
		return nil, err
	}

	key, err := h.cache.ReportKey(r.Context(), groupID, reportType, q.Get("start"), q.Get("end"))
	if err != nil {
		h.logger.Warn("cache key", slog.Any("error", err))
		key = ""
	}
	began := time.Now()
	loader := func(ctx context.Context) (*consolidation.ConsolidatedReport, error) {
		return h.service.Generate(ctx, groupID, reportType, start, end)
	}
	var report *consolidation.ConsolidatedReport
	if key == "" {
		report, err = loader(r.Context())
	} else {
		report, err = h.cache.Fetch(r.Context(), key, loader)
	}
	h.metrics.ObserveReport(string(reportType), err, time.Since(began))
	return report, err
}

var errInvalidID = errors.New("invalid identifier")

func (h *Handler) bustCache(ctx context.Context) {
	if err := h.cache.Bump(ctx); err != nil {
		h.logger.Warn("bust consolidation view cache", slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errInvalidID):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, errInvalidDate):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, consolidation.ErrGroupNotFound),
		errors.Is(err, consolidation.ErrEntityNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, consolidation.ErrEmptyGroup):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid State", err.Error())
	case errors.Is(err, consolidation.ErrUnsupportedReportType):
		httpx.Problem(w, http.StatusBadRequest, "Unsupported Operation", err.Error())
	default:
		h.logger.Error("consolidation request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

var errInvalidDate = errors.New("invalid date: expected YYYY-MM-DD")

func parseDateParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, errInvalidDate
	}
	return &t, nil
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name+" path parameter")
		return 0, false
	}
	return id, true
}
