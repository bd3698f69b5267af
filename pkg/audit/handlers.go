package audit

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/chronicle/pkg/httputil"
	"github.com/platinummonkey/chronicle/pkg/observability"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Handlers provides the HTTP API over stored audit entries
type Handlers struct {
	store Store
}

// NewHandlers creates new audit handlers
func NewHandlers(store Store) *Handlers {
	return &Handlers{
		store: store,
	}
}

// RegisterRoutes registers audit routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/entries", h.listEntries).Methods("GET")
	router.HandleFunc("/audit/entries/{id}", h.getEntry).Methods("GET")
	router.HandleFunc("/audit/export", h.exportEntries).Methods("GET")
	router.HandleFunc("/audit/stats", h.getStats).Methods("GET")
}

// listEntries handles GET /audit/entries
func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, r, http.StatusBadRequest, err)
		return
	}

	entries, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, http.StatusInternalServerError, err)
		return
	}

	httputil.WriteJSON(w, r, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// getEntry handles GET /audit/entries/{id}
func (h *Handlers) getEntry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entry, err := h.store.Get(r.Context(), id)
	switch {
	case errors.Is(err, ErrEntryNotFound):
		httputil.WriteError(w, r, http.StatusNotFound, err)
		return
	case err != nil:
		httputil.WriteError(w, r, http.StatusInternalServerError, err)
		return
	}

	httputil.WriteJSON(w, r, http.StatusOK, entry)
}

// exportEntries handles GET /audit/export
func (h *Handlers) exportEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	format, err := ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteError(w, r, http.StatusBadRequest, err)
		return
	}

	data, err := h.store.Export(r.Context(), filter, format)
	if err != nil {
		httputil.WriteError(w, r, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=audit-entries.%s", format))
	if _, err := w.Write(data); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to write export")
	}
}

// getStats handles GET /audit/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	startTime, err := httputil.QueryTime(r, "start_time")
	if err != nil {
		httputil.WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	endTime, err := httputil.QueryTime(r, "end_time")
	if err != nil {
		httputil.WriteError(w, r, http.StatusBadRequest, err)
		return
	}

	stats, err := h.store.Stats(r.Context(), startTime, endTime)
	if err != nil {
		httputil.WriteError(w, r, http.StatusInternalServerError, err)
		return
	}

	httputil.WriteJSON(w, r, http.StatusOK, stats)
}

// parseFilter parses a search filter from query parameters
func parseFilter(r *http.Request) (SearchFilter, error) {
	query := r.URL.Query()
	filter := SearchFilter{
		CommitID:   query.Get("commit_id"),
		Entities:   httputil.QueryList(r, "entities"),
		PrimaryKey: query.Get("primary_key"),
		Actor:      query.Get("actor"),
		SortBy:     query.Get("sort_by"),
		SortOrder:  query.Get("sort_order"),
	}

	var err error
	if filter.StartTime, err = httputil.QueryTime(r, "start_time"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = httputil.QueryTime(r, "end_time"); err != nil {
		return filter, err
	}

	for _, st := range httputil.QueryList(r, "states") {
		state := State(st)
		switch state {
		case StateAdded, StateModified, StateDeleted:
			filter.States = append(filter.States, state)
		default:
			return filter, fmt.Errorf("unknown state %q", st)
		}
	}

	limit, err := httputil.QueryInt(r, "limit", defaultPageSize, 1)
	if err != nil {
		return filter, err
	}
	filter.Limit = min(limit, maxPageSize)
	if filter.Offset, err = httputil.QueryInt(r, "offset", 0, 0); err != nil {
		return filter, err
	}

	if _, ok := sortColumns[filter.SortBy]; !ok {
		return filter, fmt.Errorf("cannot sort by %q", filter.SortBy)
	}
	if filter.SortOrder == "" {
		filter.SortOrder = "desc"
	}

	return filter, nil
}
