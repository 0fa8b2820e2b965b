package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/repositories"
	"github.com/mroshb/clan_portal/internal/security"
	"github.com/mroshb/clan_portal/pkg/errors"
)

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name  string
		p     *security.Principal
		roles []string
		code  string
	}{
		{"anonymous", nil, []string{models.RoleAdmin}, errors.ErrCodeUnauthorized},
		{"no roles", &security.Principal{UserID: 1}, []string{models.RoleAdmin}, errors.ErrCodeForbidden},
		{"wrong role", &security.Principal{UserID: 1, Roles: []string{"moderator"}}, []string{models.RoleAdmin}, errors.ErrCodeForbidden},
		{"any of", &security.Principal{UserID: 1, Roles: []string{"moderator"}}, []string{models.RoleAdmin, models.RoleModerator}, ""},
		{"case-insensitive", &security.Principal{UserID: 1, Roles: []string{"Admin"}}, []string{models.RoleAdmin}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.p, tt.roles...)
			if tt.code == "" {
				if err != nil {
					t.Fatalf("Authorize() error = %v", err)
				}
				return
			}
			wantCode(t, err, tt.code, "")
		})
	}
}

func TestReviewService_RoleGating(t *testing.T) {
	h := newHarness(t, LedgerOptions{})
	moderator := h.principal(t, 2, models.RoleModerator)
	member := h.principal(t, 3)
	applicant := h.user(t, 100)
	v := h.village(t, "Riverside", 50)
	app := h.submit(t, applicant.ID, v.ID, nil)
	ctx := context.Background()

	// Moderators review but cannot touch the directory.
	reviewed, err := h.authority.Review(ctx, moderator, Decision{ApplicationID: app.ID, Status: "INTERVIEW"})
	if err != nil {
		t.Fatalf("moderator Review() error = %v", err)
	}
	if reviewed.Status != models.StatusInterview {
		t.Errorf("Status = %s, want INTERVIEW", reviewed.Status)
	}
	_, err = h.authority.CreateVillage(ctx, moderator, VillageFields{Name: ptr("Hilltop")})
	wantCode(t, err, errors.ErrCodeForbidden, "")

	// Members without staff roles can do neither.
	_, err = h.authority.Review(ctx, member, Decision{ApplicationID: app.ID, Status: "ACCEPTED"})
	wantCode(t, err, errors.ErrCodeForbidden, "")
	_, err = h.authority.CreateVillage(ctx, member, VillageFields{Name: ptr("Hilltop")})
	wantCode(t, err, errors.ErrCodeForbidden, "")

	// Anonymous callers get the same answer whether or not the target exists.
	_, errExisting := h.authority.Review(ctx, nil, Decision{ApplicationID: app.ID, Status: "ACCEPTED"})
	_, errMissing := h.authority.Review(ctx, nil, Decision{ApplicationID: 9999, Status: "ACCEPTED"})
	wantCode(t, errExisting, errors.ErrCodeUnauthorized, "authentication required")
	wantCode(t, errMissing, errors.ErrCodeUnauthorized, "authentication required")
	_, err = h.authority.CreateVillage(ctx, nil, VillageFields{Name: ptr("Hilltop")})
	wantCode(t, err, errors.ErrCodeUnauthorized, "")

	// A forbidden caller gets FORBIDDEN for a missing application too.
	_, err = h.authority.Review(ctx, member, Decision{ApplicationID: 9999, Status: "ACCEPTED"})
	wantCode(t, err, errors.ErrCodeForbidden, "")

	got, err := h.ledger.Get(ctx, app.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.StatusInterview {
		t.Errorf("rejected callers changed status to %s", got.Status)
	}
	villages, err := h.directory.ListVillages(ctx)
	if err != nil {
		t.Fatalf("ListVillages() error = %v", err)
	}
	if len(villages) != 1 {
		t.Errorf("villages = %d, want 1", len(villages))
	}
}

func TestReviewService_StaffReads(t *testing.T) {
	h := newHarness(t, LedgerOptions{})
	moderator := h.principal(t, 2, models.RoleModerator)
	member := h.principal(t, 3)
	v := h.village(t, "Riverside", 50)
	h.submit(t, h.user(t, 100).ID, v.ID, nil)
	ctx := context.Background()

	apps, err := h.authority.ListApplications(ctx, moderator, repositories.ApplicationFilter{})
	if err != nil || len(apps) != 1 {
		t.Errorf("ListApplications() = %d, %v", len(apps), err)
	}
	users, err := h.authority.ListUsers(ctx, moderator)
	if err != nil || len(users) != 3 {
		t.Errorf("ListUsers() = %d, %v", len(users), err)
	}
	roles, err := h.authority.ListRoles(ctx, moderator)
	if err != nil || len(roles) < 2 {
		t.Errorf("ListRoles() = %d, %v", len(roles), err)
	}
	if _, err := h.authority.GetVillage(ctx, moderator, v.ID); err != nil {
		t.Errorf("GetVillage() error = %v", err)
	}
	if _, err := h.authority.GetSettings(ctx, moderator); err != nil {
		t.Errorf("GetSettings() error = %v", err)
	}

	_, err = h.authority.ListApplications(ctx, member, repositories.ApplicationFilter{})
	wantCode(t, err, errors.ErrCodeForbidden, "")
	_, err = h.authority.ListUsers(ctx, nil)
	wantCode(t, err, errors.ErrCodeUnauthorized, "")
	_, err = h.authority.ListVillages(ctx, member)
	wantCode(t, err, errors.ErrCodeForbidden, "")
}

func TestReviewService_AdminOnlyWrites(t *testing.T) {
	h := newHarness(t, LedgerOptions{})
	admin := h.principal(t, 1, models.RoleAdmin)
	moderator := h.principal(t, 2, models.RoleModerator)
	ctx := context.Background()

	v, err := h.authority.CreateVillage(ctx, admin, VillageFields{Name: ptr("Riverside")})
	if err != nil {
		t.Fatalf("CreateVillage() error = %v", err)
	}
	c, err := h.authority.CreateClan(ctx, admin, v.ID, VillageFields{Name: ptr("Otters")})
	if err != nil {
		t.Fatalf("CreateClan() error = %v", err)
	}

	app := h.submit(t, h.user(t, 100).ID, v.ID, &c.ID)

	forbidden := []struct {
		name string
		call func(p *security.Principal) error
	}{
		{"UpdateVillage", func(p *security.Principal) error {
			_, err := h.authority.UpdateVillage(ctx, p, v.ID, VillageFields{Capacity: ptr(3)})
			return err
		}},
		{"DeleteVillage", func(p *security.Principal) error { return h.authority.DeleteVillage(ctx, p, v.ID) }},
		{"CreateClan", func(p *security.Principal) error {
			_, err := h.authority.CreateClan(ctx, p, v.ID, VillageFields{Name: ptr("Beavers")})
			return err
		}},
		{"UpdateClan", func(p *security.Principal) error {
			_, err := h.authority.UpdateClan(ctx, p, c.ID, VillageFields{Capacity: ptr(3)})
			return err
		}},
		{"DeleteClan", func(p *security.Principal) error { return h.authority.DeleteClan(ctx, p, c.ID) }},
		{"Archive", func(p *security.Principal) error {
			_, err := h.authority.Archive(ctx, p, app.ID)
			return err
		}},
		{"SetUserRoles", func(p *security.Principal) error {
			_, err := h.authority.SetUserRoles(ctx, p, p.UserID, nil)
			return err
		}},
		{"CreateRole", func(p *security.Principal) error {
			_, err := h.authority.CreateRole(ctx, p, "verified")
			return err
		}},
		{"UpdateSettings", func(p *security.Principal) error {
			_, err := h.authority.UpdateSettings(ctx, p, map[string]json.RawMessage{"serverName": json.RawMessage(`"x"`)})
			return err
		}},
	}
	for _, tt := range forbidden {
		t.Run(tt.name, func(t *testing.T) {
			wantCode(t, tt.call(moderator), errors.ErrCodeForbidden, "")
		})
	}

	archived, err := h.authority.Archive(ctx, admin, app.ID)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if got := archived.Comments[0].AuthorID; got == nil || *got != admin.UserID {
		t.Errorf("archive comment author = %v, want %d", got, admin.UserID)
	}
	if err := h.authority.DeleteClan(ctx, admin, c.ID); err != nil {
		t.Fatalf("DeleteClan() error = %v", err)
	}
	if err := h.authority.DeleteVillage(ctx, admin, v.ID); err != nil {
		t.Fatalf("DeleteVillage() error = %v", err)
	}
}

func TestReviewService_BotDecisionRecordsProvenance(t *testing.T) {
	h := newHarness(t, LedgerOptions{})
	moderator := h.principal(t, 2, models.RoleModerator)
	v := h.village(t, "Riverside", 50)
	app := h.submit(t, h.user(t, 100).ID, v.ID, nil)
	ctx := context.Background()

	decision := Decision{
		ApplicationID: app.ID,
		Status:        "ACCEPTED",
		Comment:       "Application ACCEPTED via Telegram by @user2",
		Source:        models.CommentSourceBot,
		RequireLive:   true,
	}
	got, err := h.authority.Review(ctx, moderator, decision)
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if len(got.Comments) != 1 || got.Comments[0].Source != models.CommentSourceBot {
		t.Fatalf("Comments = %+v", got.Comments)
	}
	if got.Comments[0].Author == nil || got.Comments[0].Author.ID != moderator.UserID {
		t.Errorf("Author = %+v, want user %d", got.Comments[0].Author, moderator.UserID)
	}

	// A second click on the same buttons finds the application decided.
	_, err = h.authority.Review(ctx, moderator, decision)
	wantCode(t, err, errors.ErrCodeConflict, "application already decided")

	decision.ApplicationID = 9999
	_, err = h.authority.Review(ctx, moderator, decision)
	wantCode(t, err, errors.ErrCodeNotFound, "")
}
