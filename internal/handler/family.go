package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/babylog/internal/auth"
	"github.com/dukerupert/babylog/internal/family"
	"github.com/dukerupert/babylog/internal/model"
)

type FamilyHandler struct {
	svc    *family.Service
	logger *slog.Logger
}

func NewFamilyHandler(svc *family.Service, logger *slog.Logger) *FamilyHandler {
	return &FamilyHandler{svc: svc, logger: logger}
}

type familyRequest struct {
	Name string `json:"name"`
}

func (h *FamilyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req familyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	f, err := h.svc.Create(r.Context(), auth.UserID(r.Context()), req.Name)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *FamilyHandler) List(w http.ResponseWriter, r *http.Request) {
	families, err := h.svc.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, families)
}

func (h *FamilyHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.svc.ListMembers(r.Context(), auth.UserID(r.Context()), r.PathValue("familyID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

type memberRequest struct {
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
}

func (h *FamilyHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	m, err := h.svc.AddMember(r.Context(), auth.UserID(r.Context()), r.PathValue("familyID"), req.Email, req.Role)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type roleRequest struct {
	Role model.Role `json:"role"`
}

func (h *FamilyHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	m, err := h.svc.ChangeRole(r.Context(), auth.UserID(r.Context()), r.PathValue("familyID"), userID, req.Role)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *FamilyHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.RemoveMember(r.Context(), auth.UserID(r.Context()), r.PathValue("familyID"), userID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FamilyHandler) CreateBaby(w http.ResponseWriter, r *http.Request) {
	var req family.BabyInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	b, err := h.svc.CreateBaby(r.Context(), auth.UserID(r.Context()), r.PathValue("familyID"), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *FamilyHandler) ListBabies(w http.ResponseWriter, r *http.Request) {
	babies, err := h.svc.ListBabies(r.Context(), auth.UserID(r.Context()), r.PathValue("familyID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, babies)
}

func (h *FamilyHandler) RemoveBaby(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveBaby(r.Context(), auth.UserID(r.Context()), r.PathValue("babyID")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
