package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mroshb/clan_portal/internal/census"
	"github.com/mroshb/clan_portal/internal/httpx"
	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/repositories"
	"github.com/mroshb/clan_portal/internal/security"
	"github.com/mroshb/clan_portal/internal/services"
	"github.com/mroshb/clan_portal/pkg/errors"
	"github.com/mroshb/clan_portal/pkg/logger"
)

const maxImportBytes = 10 << 20

func (h *HandlerManager) AdminListApplications(w http.ResponseWriter, r *http.Request) {
	filter := repositories.ApplicationFilter{}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = models.ApplicationStatus(status)
		if !filter.Status.Known() {
			httpx.WriteError(w, r, errors.New(errors.ErrCodeValidation, "invalid status"))
			return
		}
	}

	var err error
	if filter.VillageID, err = queryUint(r, "villageId"); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if filter.ClanID, err = queryUint(r, "clanId"); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if filter.UserID, err = queryUint(r, "userId"); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	apps, err := h.Authority.ListApplications(r.Context(), security.PrincipalFrom(r.Context()), filter)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, apps)
}

func (h *HandlerManager) AdminGetApplication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	app, err := h.Authority.GetApplication(r.Context(), security.PrincipalFrom(r.Context()), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, app)
}

type reviewRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

func (h *HandlerManager) AdminReviewApplication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req reviewRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	app, err := h.Authority.Review(r.Context(), security.PrincipalFrom(r.Context()), services.Decision{
		ApplicationID: id,
		Status:        req.Status,
		Comment:       req.Comment,
		Source:        models.CommentSourceWeb,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, app)
}

func (h *HandlerManager) AdminArchiveApplication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	app, err := h.Authority.Archive(r.Context(), security.PrincipalFrom(r.Context()), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, app)
}

func (h *HandlerManager) AdminListVillages(w http.ResponseWriter, r *http.Request) {
	villages, err := h.Authority.ListVillages(r.Context(), security.PrincipalFrom(r.Context()))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, villages)
}

func (h *HandlerManager) AdminGetVillage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	village, err := h.Authority.GetVillage(r.Context(), security.PrincipalFrom(r.Context()), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, village)
}

func (h *HandlerManager) AdminCreateVillage(w http.ResponseWriter, r *http.Request) {
	var fields services.VillageFields
	if err := httpx.DecodeJSON(r, &fields); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	village, err := h.Authority.CreateVillage(r.Context(), security.PrincipalFrom(r.Context()), fields)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, village)
}

func (h *HandlerManager) AdminUpdateVillage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var fields services.VillageFields
	if err := httpx.DecodeJSON(r, &fields); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	village, err := h.Authority.UpdateVillage(r.Context(), security.PrincipalFrom(r.Context()), id, fields)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, village)
}

func (h *HandlerManager) AdminDeleteVillage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.Authority.DeleteVillage(r.Context(), security.PrincipalFrom(r.Context()), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HandlerManager) AdminCreateClan(w http.ResponseWriter, r *http.Request) {
	villageID, err := pathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var fields services.VillageFields
	if err := httpx.DecodeJSON(r, &fields); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	clan, err := h.Authority.CreateClan(r.Context(), security.PrincipalFrom(r.Context()), villageID, fields)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, clan)
}

// clanPatch names villageId only to reject it.
type clanPatch struct {
	services.VillageFields
	VillageID *uint `json:"villageId"`
}

func (h *HandlerManager) AdminUpdateClan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var patch clanPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if patch.VillageID != nil {
		httpx.WriteError(w, r, errors.New(errors.ErrCodeValidation, "villageId cannot be changed"))
		return
	}

	clan, err := h.Authority.UpdateClan(r.Context(), security.PrincipalFrom(r.Context()), id, patch.VillageFields)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, clan)
}

func (h *HandlerManager) AdminDeleteClan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.Authority.DeleteClan(r.Context(), security.PrincipalFrom(r.Context()), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HandlerManager) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Authority.ListUsers(r.Context(), security.PrincipalFrom(r.Context()))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, users)
}

type rolesRequest struct {
	RoleIDs []uint `json:"roleIds"`
}

func (h *HandlerManager) AdminSetUserRoles(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req rolesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	user, err := h.Authority.SetUserRoles(r.Context(), security.PrincipalFrom(r.Context()), id, req.RoleIDs)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

func (h *HandlerManager) AdminListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.Authority.ListRoles(r.Context(), security.PrincipalFrom(r.Context()))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, roles)
}

type roleRequest struct {
	Name string `json:"name"`
}

func (h *HandlerManager) AdminCreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	role, err := h.Authority.CreateRole(r.Context(), security.PrincipalFrom(r.Context()), req.Name)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, role)
}

func (h *HandlerManager) AdminGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Authority.GetSettings(r.Context(), security.PrincipalFrom(r.Context()))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, settings)
}

func (h *HandlerManager) AdminUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	settings, err := h.Authority.UpdateSettings(r.Context(), security.PrincipalFrom(r.Context()), patch)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, settings)
}

// AdminExportCensus streams the census and application list as a workbook.
func (h *HandlerManager) AdminExportCensus(w http.ResponseWriter, r *http.Request) {
	p := security.PrincipalFrom(r.Context())
	villages, err := h.Authority.ListVillages(r.Context(), p)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	apps, err := h.Authority.ListApplications(r.Context(), p, repositories.ApplicationFilter{Limit: 500})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := census.Export(&buf, villages, apps); err != nil {
		httpx.WriteError(w, r, errors.Wrap(err, errors.ErrCodeInternalError, "failed to build workbook"))
		return
	}

	name := fmt.Sprintf("census-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// AdminImportCensus creates missing villages and clans from an uploaded
// workbook sent as the raw request body.
func (h *HandlerManager) AdminImportCensus(w http.ResponseWriter, r *http.Request) {
	if err := services.Authorize(security.PrincipalFrom(r.Context()), models.RoleAdmin); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		httpx.WriteError(w, r, errors.Wrap(err, errors.ErrCodeValidation, "failed to read upload"))
		return
	}
	rows, err := census.ReadRows(bytes.NewReader(raw))
	if err != nil {
		httpx.WriteError(w, r, errors.Wrap(err, errors.ErrCodeValidation, err.Error()))
		return
	}

	result, err := census.Import(r.Context(), h.Directory, rows)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	logger.Info("Census import by admin", "user_id", security.PrincipalFrom(r.Context()).UserID, "rows", len(rows))
	httpx.WriteJSON(w, http.StatusOK, result)
}
