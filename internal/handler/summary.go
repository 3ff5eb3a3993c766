package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/babylog/internal/auth"
	"github.com/dukerupert/babylog/internal/model"
	"github.com/dukerupert/babylog/internal/summary"
)

type SummaryHandler struct {
	engine *summary.Engine
	logger *slog.Logger
}

func NewSummaryHandler(engine *summary.Engine, logger *slog.Logger) *SummaryHandler {
	return &SummaryHandler{engine: engine, logger: logger}
}

// Daily serves GET .../summary/daily?date=YYYY-MM-DD[&tz=Zone].
func (h *SummaryHandler) Daily(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s, err := h.engine.Daily(r.Context(), auth.UserID(r.Context()), r.PathValue("babyID"), q.Get("date"), q.Get("tz"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type rangeResponse struct {
	From    string               `json:"from"`
	To      string               `json:"to"`
	Results []model.DailySummary `json:"results"`
}

// Range serves GET .../summary/range?from=&to=[&tz=Zone].
func (h *SummaryHandler) Range(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days, err := h.engine.Range(r.Context(), auth.UserID(r.Context()), r.PathValue("babyID"), q.Get("from"), q.Get("to"), q.Get("tz"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rangeResponse{From: q.Get("from"), To: q.Get("to"), Results: days})
}
