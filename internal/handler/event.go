package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/babylog/internal/apperr"
	"github.com/dukerupert/babylog/internal/auth"
	"github.com/dukerupert/babylog/internal/event"
	"github.com/dukerupert/babylog/internal/model"
)

// IdempotencyHeader carries the client's retry token on event creation.
const IdempotencyHeader = "Idempotency-Key"

type EventHandler struct {
	svc    *event.Service
	logger *slog.Logger
}

func NewEventHandler(svc *event.Service, logger *slog.Logger) *EventHandler {
	return &EventHandler{svc: svc, logger: logger}
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in event.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	e, err := h.svc.Create(r.Context(), auth.UserID(r.Context()), r.PathValue("babyID"), in, r.Header.Get(IdempotencyHeader))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

type pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

type eventListResponse struct {
	Results    []model.Event `json:"results"`
	Pagination pagination    `json:"pagination"`
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	page, err := h.svc.List(r.Context(), auth.UserID(r.Context()), r.PathValue("babyID"), f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, eventListResponse{
		Results: page.Events,
		Pagination: pagination{
			Total:   page.Total,
			Limit:   page.Limit,
			Offset:  page.Offset,
			HasMore: page.HasMore(),
		},
	})
}

func parseListFilter(r *http.Request) (event.ListFilter, error) {
	q := r.URL.Query()
	fields := apperr.Fields{}
	f := event.ListFilter{Type: model.EventType(q.Get("type"))}

	parseTime := func(name string) time.Time {
		s := q.Get(name)
		if s == "" {
			return time.Time{}
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			fields.Add(name, "must be an RFC3339 timestamp")
		}
		return t
	}
	parseInt := func(name string) int {
		s := q.Get(name)
		if s == "" {
			return 0
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			fields.Add(name, "must be a non-negative integer")
		}
		return n
	}
	f.From = parseTime("from")
	f.To = parseTime("to")
	f.Limit = parseInt("limit")
	f.Offset = parseInt("offset")

	if len(fields) > 0 {
		return f, apperr.Validation(fields)
	}
	return f, nil
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.Get(r.Context(), auth.UserID(r.Context()), r.PathValue("eventID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	var p event.Patch
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	e, err := h.svc.Update(r.Context(), auth.UserID(r.Context()), r.PathValue("eventID"), p)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), auth.UserID(r.Context()), r.PathValue("eventID")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
