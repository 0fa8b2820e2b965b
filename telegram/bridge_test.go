package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/notify"
	"github.com/mroshb/clan_portal/internal/repositories"
	"github.com/mroshb/clan_portal/internal/services"
	"github.com/mroshb/clan_portal/internal/testutil"
)

// fakeSender records everything the bridge sends to Telegram.
type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
	sendErr  error
	nextID   int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	if cfg, ok := c.(tgbotapi.CreateChatInviteLinkConfig); ok {
		raw, _ := json.Marshal(tgbotapi.ChatInviteLink{InviteLink: fmt.Sprintf("https://t.me/+invite%d", -cfg.ChatID)})
		return &tgbotapi.APIResponse{Ok: true, Result: raw}, nil
	}
	return &tgbotapi.APIResponse{Ok: true, Result: json.RawMessage("true")}, nil
}

func (f *fakeSender) callbacks() []tgbotapi.CallbackConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.CallbackConfig
	for _, r := range f.requests {
		if cb, ok := r.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb)
		}
	}
	return out
}

func (f *fakeSender) keyboardRemovals() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if _, ok := r.(tgbotapi.EditMessageReplyMarkupConfig); ok {
			n++
		}
	}
	return n
}

type bridgeHarness struct {
	bridge *Bridge
	fake   *fakeSender
	store  *repositories.Store
	deps   Deps
	dir    *services.DirectoryService
}

func newBridgeHarness(t *testing.T) *bridgeHarness {
	t.Helper()

	store := repositories.NewStore(testutil.OpenDB(t))
	directory := services.NewDirectoryService(store, nil)
	ledger := services.NewApplicationService(store, nil, nil, services.LedgerOptions{})
	users := services.NewUserService(store, services.UserOptions{
		JWTSecret:            "test-secret-that-is-at-least-32-characters",
		TokenTTL:             time.Hour,
		SuperAdminTelegramID: 1,
		PublicURL:            "https://portal.example.com",
	})
	settings := services.NewSettingsService(store)

	deps := Deps{
		Users:     users,
		Ledger:    ledger,
		Authority: services.NewReviewService(ledger, directory, users, settings),
		Settings:  settings,
	}
	fake := &fakeSender{}
	return &bridgeHarness{bridge: newBridge(fake, deps), fake: fake, store: store, deps: deps, dir: directory}
}

func (h *bridgeHarness) enable(t *testing.T) {
	t.Helper()
	_, err := h.deps.Settings.Update(context.Background(), map[string]json.RawMessage{
		"bridgeEnabled":       json.RawMessage("true"),
		"applicationsChatId":  json.RawMessage("-100"),
		"announcementsChatId": json.RawMessage("-200"),
		"roleChats":           json.RawMessage(`{"riverside": -300, "Verified": -400}`),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
}

func (h *bridgeHarness) user(t *testing.T, telegramID int64, roles ...string) *models.User {
	t.Helper()
	ctx := context.Background()

	u, err := h.deps.Users.SignIn(ctx, services.Profile{TelegramID: telegramID, Username: fmt.Sprintf("user%d", telegramID)})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	for _, name := range roles {
		role, err := h.store.Roles.GetRoleByName(ctx, name)
		if err != nil {
			t.Fatalf("GetRoleByName() error = %v", err)
		}
		if err := h.store.Users.AddRole(ctx, u, role); err != nil {
			t.Fatalf("AddRole() error = %v", err)
		}
	}
	return u
}

func (h *bridgeHarness) application(t *testing.T, userID uint) *models.Application {
	t.Helper()
	ctx := context.Background()

	name := "Riverside"
	v, err := h.dir.CreateVillage(ctx, services.VillageFields{Name: &name})
	if err != nil {
		t.Fatalf("CreateVillage() error = %v", err)
	}
	app, err := h.deps.Ledger.Submit(ctx, userID, services.SubmitInput{VillageID: v.ID, Biography: "I farm wheat."})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return app
}

func press(h *bridgeHarness, telegramID int64, data string) {
	h.bridge.handleUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "q1",
		From: &tgbotapi.User{ID: telegramID},
		Data: data,
		Message: &tgbotapi.Message{
			MessageID: 77,
			Chat:      &tgbotapi.Chat{ID: -100, Type: "supergroup"},
		},
	}})
}

func command(telegramID int64, text, chatType string) tgbotapi.Update {
	cmd, _, _ := strings.Cut(text, " ")
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: telegramID, UserName: "neo", FirstName: "Thomas", LastName: "Anderson"},
		Chat:      &tgbotapi.Chat{ID: telegramID, Type: chatType},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func samplePayload(status models.ApplicationStatus) notify.ApplicationPayload {
	clan := uint(3)
	return notify.ApplicationPayload{
		ApplicationID: 7,
		Status:        string(status),
		Biography:     "I <3 fishing",
		TelegramID:    555,
		Username:      "neo",
		VillageName:   "Riverside",
		ClanID:        &clan,
		ClanName:      "Otters",
	}
}

func TestParseReviewData(t *testing.T) {
	tests := []struct {
		data    string
		wantID  uint
		want    models.ApplicationStatus
		wantErr bool
	}{
		{data: "approve:12", wantID: 12, want: models.StatusAccepted},
		{data: "interview:3", wantID: 3, want: models.StatusInterview},
		{data: "reject:9", wantID: 9, want: models.StatusRejected},
		{data: "archive:9", wantErr: true},
		{data: "approve:0", wantErr: true},
		{data: "approve:x", wantErr: true},
		{data: "approve", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			id, status, err := parseReviewData(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseReviewData() error = %v, wantErr %v", err, tt.wantErr)
			}
			if id != tt.wantID || status != tt.want {
				t.Errorf("parseReviewData() = %d, %q", id, status)
			}
		})
	}
}

func TestReviewKeyboard_RoundTrip(t *testing.T) {
	kb := ReviewKeyboard(42)
	row := kb.InlineKeyboard[0]
	if len(row) != 3 {
		t.Fatalf("buttons = %d, want 3", len(row))
	}
	for _, btn := range row {
		id, _, err := parseReviewData(*btn.CallbackData)
		if err != nil || id != 42 {
			t.Errorf("button %q decodes to %d, %v", btn.Text, id, err)
		}
	}
}

func TestAnnounceNewApplication(t *testing.T) {
	h := newBridgeHarness(t)
	ctx := context.Background()

	if err := h.bridge.AnnounceNewApplication(ctx, samplePayload(models.StatusPending)); err != nil {
		t.Fatalf("AnnounceNewApplication() error = %v", err)
	}
	if len(h.fake.sent) != 0 {
		t.Fatalf("sent %d messages while the bridge is disabled", len(h.fake.sent))
	}

	h.enable(t)
	if err := h.bridge.AnnounceNewApplication(ctx, samplePayload(models.StatusPending)); err != nil {
		t.Fatalf("AnnounceNewApplication() error = %v", err)
	}
	if len(h.fake.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(h.fake.sent))
	}
	msg := h.fake.sent[0]
	if msg.ChatID != -100 {
		t.Errorf("ChatID = %d, want -100", msg.ChatID)
	}
	if !strings.Contains(msg.Text, "I &lt;3 fishing") || !strings.Contains(msg.Text, "@neo") {
		t.Errorf("Text = %q", msg.Text)
	}
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || *kb.InlineKeyboard[0][0].CallbackData != "approve:7" {
		t.Errorf("ReplyMarkup = %#v", msg.ReplyMarkup)
	}
}

func TestAnnounceNewApplication_SendFailureIsReturned(t *testing.T) {
	h := newBridgeHarness(t)
	h.enable(t)
	h.fake.sendErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}

	if err := h.bridge.AnnounceNewApplication(context.Background(), samplePayload(models.StatusPending)); err == nil {
		t.Error("AnnounceNewApplication() error = nil, want the send error so the outbox retries")
	}
}

func TestAnnounceStatusChange(t *testing.T) {
	tests := []struct {
		status    models.ApplicationStatus
		wantChats []int64
	}{
		{status: models.StatusAccepted, wantChats: []int64{-200, 555}},
		{status: models.StatusRejected, wantChats: []int64{555}},
		{status: models.StatusInterview, wantChats: []int64{555}},
		{status: models.StatusPending, wantChats: nil},
		{status: models.StatusArchived, wantChats: nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			h := newBridgeHarness(t)
			h.enable(t)

			if err := h.bridge.AnnounceStatusChange(context.Background(), samplePayload(tt.status)); err != nil {
				t.Fatalf("AnnounceStatusChange() error = %v", err)
			}
			if len(h.fake.sent) != len(tt.wantChats) {
				t.Fatalf("sent = %d, want %d", len(h.fake.sent), len(tt.wantChats))
			}
			for i, chatID := range tt.wantChats {
				if h.fake.sent[i].ChatID != chatID {
					t.Errorf("sent[%d].ChatID = %d, want %d", i, h.fake.sent[i].ChatID, chatID)
				}
			}
		})
	}
}

func TestAnnounceStatusChange_BlockedApplicant(t *testing.T) {
	h := newBridgeHarness(t)
	h.enable(t)
	h.fake.sendErr = &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}

	if err := h.bridge.AnnounceStatusChange(context.Background(), samplePayload(models.StatusRejected)); err != nil {
		t.Errorf("AnnounceStatusChange() error = %v, want nil for a blocked user", err)
	}
}

func TestGrantRoles(t *testing.T) {
	h := newBridgeHarness(t)
	h.enable(t)

	err := h.bridge.GrantRoles(context.Background(), notify.RoleGrant{
		ApplicationID: 7,
		TelegramID:    555,
		VillageName:   "Riverside",
		ClanName:      "Otters",
	})
	if err != nil {
		t.Fatalf("GrantRoles() error = %v", err)
	}

	var invites []tgbotapi.CreateChatInviteLinkConfig
	for _, r := range h.fake.requests {
		if cfg, ok := r.(tgbotapi.CreateChatInviteLinkConfig); ok {
			invites = append(invites, cfg)
		}
	}
	if len(invites) != 2 {
		t.Fatalf("invite links = %d, want 2 (village and verified; clan is unmapped)", len(invites))
	}
	for _, cfg := range invites {
		if cfg.MemberLimit != 1 {
			t.Errorf("MemberLimit = %d, want 1", cfg.MemberLimit)
		}
	}

	if len(h.fake.sent) != 1 || h.fake.sent[0].ChatID != 555 {
		t.Fatalf("direct messages = %+v", h.fake.sent)
	}
	text := h.fake.sent[0].Text
	if !strings.Contains(text, "https://t.me/+invite300") || !strings.Contains(text, "https://t.me/+invite400") {
		t.Errorf("Text = %q", text)
	}
}

func TestGrantRoles_UnmappedVillage(t *testing.T) {
	h := newBridgeHarness(t)
	h.enable(t)

	if err := h.bridge.GrantRoles(context.Background(), notify.RoleGrant{ApplicationID: 1, TelegramID: 555, VillageName: "Hilltop"}); err != nil {
		t.Fatalf("GrantRoles() error = %v", err)
	}
	// The verified chat is still mapped.
	if len(h.fake.sent) != 1 {
		t.Errorf("sent = %d, want 1", len(h.fake.sent))
	}
}

func TestCallback_StaffDecision(t *testing.T) {
	h := newBridgeHarness(t)
	applicant := h.user(t, 10)
	h.user(t, 20, models.RoleModerator)
	app := h.application(t, applicant.ID)

	press(h, 20, fmt.Sprintf("approve:%d", app.ID))

	got, err := h.deps.Ledger.Get(context.Background(), app.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.StatusAccepted {
		t.Fatalf("Status = %q, want ACCEPTED", got.Status)
	}
	if len(got.Comments) == 0 {
		t.Fatal("no audit comment recorded")
	}
	c := got.Comments[0]
	if c.Source != models.CommentSourceBot || c.Content != "Application accepted via Telegram by @user20" {
		t.Errorf("comment = %+v", c)
	}
	if h.fake.keyboardRemovals() != 1 {
		t.Errorf("keyboard removals = %d, want 1", h.fake.keyboardRemovals())
	}

	// A second press on the stale message is refused.
	press(h, 20, fmt.Sprintf("reject:%d", app.ID))
	cbs := h.fake.callbacks()
	last := cbs[len(cbs)-1]
	if last.Text != "application already decided" || !last.ShowAlert {
		t.Errorf("callback = %+v", last)
	}
	got, _ = h.deps.Ledger.Get(context.Background(), app.ID)
	if got.Status != models.StatusAccepted {
		t.Errorf("Status after second press = %q", got.Status)
	}
}

func TestCallback_Refusals(t *testing.T) {
	h := newBridgeHarness(t)
	applicant := h.user(t, 10)
	h.user(t, 30)
	app := h.application(t, applicant.ID)
	data := fmt.Sprintf("reject:%d", app.ID)

	tests := []struct {
		name       string
		telegramID int64
		data       string
		want       string
	}{
		{name: "Unknown presser", telegramID: 99, data: data, want: MsgNotLinked},
		{name: "Member without role", telegramID: 30, data: data, want: "insufficient role"},
		{name: "Malformed data", telegramID: 30, data: "reject:", want: MsgBadButton},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			press(h, tt.telegramID, tt.data)
			cbs := h.fake.callbacks()
			if got := cbs[len(cbs)-1].Text; got != tt.want {
				t.Errorf("callback text = %q, want %q", got, tt.want)
			}
		})
	}

	got, _ := h.deps.Ledger.Get(context.Background(), app.ID)
	if got.Status != models.StatusPending {
		t.Errorf("Status = %q, want PENDING", got.Status)
	}
}

func TestCommand_Login(t *testing.T) {
	h := newBridgeHarness(t)

	h.bridge.handleUpdate(command(1, "/login", "private"))

	if len(h.fake.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(h.fake.sent))
	}
	kb, ok := h.fake.sent[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("ReplyMarkup = %#v", h.fake.sent[0].ReplyMarkup)
	}
	link := kb.InlineKeyboard[0][0].URL
	if link == nil || !strings.HasPrefix(*link, "https://portal.example.com/login?token=") {
		t.Errorf("login link = %v", link)
	}

	u, err := h.deps.Users.GetUserByTelegramID(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetUserByTelegramID() error = %v", err)
	}
	if u.FullName != "Thomas Anderson" || u.Username != "neo" {
		t.Errorf("user = %+v", u)
	}
	if len(u.Roles) != 1 || u.Roles[0].Name != models.RoleAdmin {
		t.Errorf("super admin roles = %+v", u.Roles)
	}
}

func TestCommand_PrivateOnly(t *testing.T) {
	h := newBridgeHarness(t)

	h.bridge.handleUpdate(command(5, "/login", "group"))

	if len(h.fake.sent) != 1 || h.fake.sent[0].Text != MsgPrivateOnly {
		t.Fatalf("sent = %+v", h.fake.sent)
	}
	if _, err := h.deps.Users.GetUserByTelegramID(context.Background(), 5); err == nil {
		t.Error("user created from a group chat")
	}
}

func TestCommand_Status(t *testing.T) {
	h := newBridgeHarness(t)

	h.bridge.handleUpdate(command(10, "/status", "private"))
	if len(h.fake.sent) != 1 || h.fake.sent[0].Text != MsgNoApps {
		t.Fatalf("sent = %+v", h.fake.sent)
	}

	u := h.user(t, 10)
	app := h.application(t, u.ID)
	h.bridge.handleUpdate(command(10, "/status", "private"))
	text := h.fake.sent[len(h.fake.sent)-1].Text
	if !strings.Contains(text, fmt.Sprintf("#%d Riverside: PENDING", app.ID)) {
		t.Errorf("Text = %q", text)
	}
}
