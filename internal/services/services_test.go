package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/notify"
	"github.com/mroshb/clan_portal/internal/notify/notifytest"
	"github.com/mroshb/clan_portal/internal/repositories"
	"github.com/mroshb/clan_portal/internal/security"
	"github.com/mroshb/clan_portal/internal/testutil"
	"github.com/mroshb/clan_portal/pkg/errors"
)

type harness struct {
	store      *repositories.Store
	dispatcher *notify.Dispatcher
	sink       *notifytest.Recorder
	census     *countingCensus
	directory  *DirectoryService
	ledger     *ApplicationService
	users      *UserService
	settings   *SettingsService
	authority  *ReviewService
}

func newHarness(t *testing.T, opts LedgerOptions) *harness {
	t.Helper()

	store := repositories.NewStore(testutil.OpenDB(t))
	dispatcher := notify.NewDispatcher(store.Outbox, notify.Options{})
	sink := &notifytest.Recorder{}
	dispatcher.RegisterSink("recorder", sink)
	census := &countingCensus{}

	h := &harness{
		store:      store,
		dispatcher: dispatcher,
		sink:       sink,
		census:     census,
		directory:  NewDirectoryService(store, census),
		ledger:     NewApplicationService(store, dispatcher, census, opts),
		users: NewUserService(store, UserOptions{
			JWTSecret:            "test-secret-that-is-at-least-32-characters",
			TokenTTL:             time.Hour,
			SuperAdminTelegramID: 1,
			PublicURL:            "https://portal.example.com",
		}),
		settings: NewSettingsService(store),
	}
	h.authority = NewReviewService(h.ledger, h.directory, h.users, h.settings)
	return h
}

// countingCensus is an in-memory CensusCache that records invalidations.
type countingCensus struct {
	villages      []models.Village
	cached        bool
	invalidations int
}

func (c *countingCensus) Get(context.Context) ([]models.Village, bool) {
	return c.villages, c.cached
}

func (c *countingCensus) Set(_ context.Context, villages []models.Village) {
	c.villages = villages
	c.cached = true
}

func (c *countingCensus) Invalidate(context.Context) {
	c.villages = nil
	c.cached = false
	c.invalidations++
}

func ptr[T any](v T) *T { return &v }

func (h *harness) user(t *testing.T, telegramID int64, roles ...string) *models.User {
	t.Helper()
	ctx := context.Background()

	u, err := h.store.Users.Upsert(ctx, &models.User{
		TelegramID: telegramID,
		Username:   fmt.Sprintf("user%d", telegramID),
		FullName:   fmt.Sprintf("User %d", telegramID),
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	for _, name := range roles {
		role, err := h.store.Roles.GetRoleByName(ctx, name)
		if err != nil {
			t.Fatalf("GetRoleByName(%q) error = %v", name, err)
		}
		if err := h.store.Users.AddRole(ctx, u, role); err != nil {
			t.Fatalf("AddRole() error = %v", err)
		}
	}
	u, err = h.store.Users.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	return u
}

func (h *harness) principal(t *testing.T, telegramID int64, roles ...string) *security.Principal {
	t.Helper()
	return security.NewPrincipal(h.user(t, telegramID, roles...))
}

func (h *harness) village(t *testing.T, name string, capacity int) *models.Village {
	t.Helper()
	v, err := h.directory.CreateVillage(context.Background(), VillageFields{Name: ptr(name), Capacity: ptr(capacity)})
	if err != nil {
		t.Fatalf("CreateVillage() error = %v", err)
	}
	return v
}

func (h *harness) clan(t *testing.T, villageID uint, name string, capacity int) *models.Clan {
	t.Helper()
	c, err := h.directory.CreateClan(context.Background(), villageID, VillageFields{Name: ptr(name), Capacity: ptr(capacity)})
	if err != nil {
		t.Fatalf("CreateClan() error = %v", err)
	}
	return c
}

func (h *harness) submit(t *testing.T, userID, villageID uint, clanID *uint) *models.Application {
	t.Helper()
	app, err := h.ledger.Submit(context.Background(), userID, SubmitInput{VillageID: villageID, ClanID: clanID, Biography: "I farm wheat."})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return app
}

func (h *harness) review(t *testing.T, appID uint, status string, actorID uint) *models.Application {
	t.Helper()
	app, err := h.ledger.Review(context.Background(), ReviewInput{ApplicationID: appID, Status: status, ActorID: actorID})
	if err != nil {
		t.Fatalf("Review(%s) error = %v", status, err)
	}
	return app
}

func (h *harness) dispatch(t *testing.T) {
	t.Helper()
	if _, err := h.dispatcher.DispatchOnce(context.Background()); err != nil {
		t.Fatalf("DispatchOnce() error = %v", err)
	}
}

func wantCode(t *testing.T, err error, code, message string) {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want %s", code)
	}
	if got := errors.CodeOf(err); got != code {
		t.Fatalf("CodeOf(%v) = %s, want %s", err, got, code)
	}
	if message != "" {
		if got := errors.MessageOf(err); got != message {
			t.Fatalf("MessageOf(%v) = %q, want %q", err, got, message)
		}
	}
}

func liveCount(t *testing.T, h *harness, userID uint) int64 {
	t.Helper()
	n, err := h.store.Applications.CountLiveForUser(context.Background(), userID, 0)
	if err != nil {
		t.Fatalf("CountLiveForUser() error = %v", err)
	}
	return n
}
