package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/notify"
)

const inviteLinkTTL = 7 * 24 * time.Hour

var _ notify.Notifier = (*Bridge)(nil)

// settings returns the current portal settings and whether outbound
// messages are enabled.
func (b *Bridge) settings(ctx context.Context) (models.PortalSettings, bool, error) {
	s, err := b.deps.Settings.Get(ctx)
	if err != nil {
		return s, false, err
	}
	return s, s.BridgeEnabled, nil
}

// AnnounceNewApplication posts the application with review buttons to the
// applications chat.
func (b *Bridge) AnnounceNewApplication(ctx context.Context, app notify.ApplicationPayload) error {
	s, enabled, err := b.settings(ctx)
	if err != nil {
		return err
	}
	if !enabled || s.ApplicationsChatID == 0 {
		return nil
	}

	if _, err := b.sendMessage(s.ApplicationsChatID, FormatNewApplication(app), ReviewKeyboard(app.ApplicationID)); err != nil {
		return fmt.Errorf("announce application %d: %w", app.ApplicationID, err)
	}
	return nil
}

// AnnounceStatusChange tells the applicant about a decision and welcomes
// accepted members in the announcements chat.
func (b *Bridge) AnnounceStatusChange(ctx context.Context, app notify.ApplicationPayload) error {
	s, enabled, err := b.settings(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}

	status := models.ApplicationStatus(app.Status)
	if status == models.StatusAccepted && s.AnnouncementsChatID != 0 {
		if _, err := b.sendMessage(s.AnnouncementsChatID, FormatWelcome(app), nil); err != nil {
			return fmt.Errorf("announce acceptance %d: %w", app.ApplicationID, err)
		}
	}

	switch status {
	case models.StatusAccepted, models.StatusInterview, models.StatusRejected:
		return b.directMessage(app.TelegramID, FormatStatusForApplicant(app), nil)
	}
	return nil
}

// GrantRoles sends the member single-use invite links to the chats mapped
// to their village, their clan and the verified role. Role names without a
// mapped chat are skipped.
func (b *Bridge) GrantRoles(ctx context.Context, grant notify.RoleGrant) error {
	s, enabled, err := b.settings(ctx)
	if err != nil {
		return err
	}
	if !enabled || grant.TelegramID == 0 {
		return nil
	}

	links := make(map[string]string)
	var order []string
	for _, name := range []string{grant.VillageName, grant.ClanName, s.VerifiedRoleName} {
		if name == "" {
			continue
		}
		if _, seen := links[name]; seen {
			continue
		}
		chatID, ok := s.ChatForRole(name)
		if !ok {
			continue
		}
		link, err := b.createInviteLink(chatID, grant)
		if err != nil {
			return fmt.Errorf("invite link for %s: %w", name, err)
		}
		links[name] = link
		order = append(order, name)
	}

	if len(order) == 0 {
		b.log.Debugw("No chats mapped for grant", "application_id", grant.ApplicationID)
		return nil
	}
	return b.directMessage(grant.TelegramID, FormatInvites(links, order), nil)
}

func (b *Bridge) createInviteLink(chatID int64, grant notify.RoleGrant) (string, error) {
	cfg := tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig:  tgbotapi.ChatConfig{ChatID: chatID},
		Name:        fmt.Sprintf("application %d", grant.ApplicationID),
		ExpireDate:  int(time.Now().Add(inviteLinkTTL).Unix()),
		MemberLimit: 1,
	}
	resp, err := b.send.Request(cfg)
	if err != nil {
		return "", err
	}

	var link tgbotapi.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", fmt.Errorf("decode invite link: %w", err)
	}
	if link.InviteLink == "" {
		return "", fmt.Errorf("empty invite link")
	}
	return link.InviteLink, nil
}

// directMessage sends to a user's private chat. Users who blocked the bot
// or never started it are logged and skipped so the event is not retried.
func (b *Bridge) directMessage(telegramID int64, text string, keyboard interface{}) error {
	if telegramID == 0 {
		return nil
	}
	if _, err := b.sendMessage(telegramID, text, keyboard); err != nil {
		if isBlocked(err) {
			b.log.Warnw("Direct message refused", "telegram_id", telegramID, "error", err)
			return nil
		}
		return err
	}
	return nil
}
