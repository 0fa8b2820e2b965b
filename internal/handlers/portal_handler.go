package handlers

import (
	"net/http"

	"github.com/mroshb/clan_portal/internal/httpx"
	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/security"
	"github.com/mroshb/clan_portal/internal/services"
)

// GetCensus lists villages and clans with member counts. It is public.
func (h *HandlerManager) GetCensus(w http.ResponseWriter, r *http.Request) {
	villages, err := h.Directory.Census(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, villages)
}

type meResponse struct {
	User    *models.User `json:"user"`
	IsStaff bool         `json:"isStaff"`
	IsAdmin bool         `json:"isAdmin"`
}

func (h *HandlerManager) GetMe(w http.ResponseWriter, r *http.Request) {
	p := security.PrincipalFrom(r.Context())
	user, err := h.Users.GetUser(r.Context(), p.UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, meResponse{
		User:    user,
		IsStaff: p.IsStaff(),
		IsAdmin: p.HasRole(models.RoleAdmin),
	})
}

func (h *HandlerManager) ListMyApplications(w http.ResponseWriter, r *http.Request) {
	p := security.PrincipalFrom(r.Context())
	apps, err := h.Ledger.ListForUser(r.Context(), p.UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, apps)
}

func (h *HandlerManager) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	var in services.SubmitInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	p := security.PrincipalFrom(r.Context())
	app, err := h.Ledger.Submit(r.Context(), p.UserID, in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, app)
}

type gameIDRequest struct {
	GameUUID string `json:"gameUuid"`
}

// SetGameID links the caller's game account.
func (h *HandlerManager) SetGameID(w http.ResponseWriter, r *http.Request) {
	var req gameIDRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	p := security.PrincipalFrom(r.Context())
	user, err := h.Users.SetGameUUID(r.Context(), p.UserID, req.GameUUID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}
