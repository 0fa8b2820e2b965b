package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/security"
	"github.com/mroshb/clan_portal/internal/services"
	"github.com/mroshb/clan_portal/pkg/errors"
)

// handleCallbackQuery applies a review button press. The presser must be a
// portal user holding a staff role; the decision goes through the same
// review path as the web dashboard.
func (b *Bridge) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	b.log.Debugw("Callback query", "data", query.Data, "user_id", query.From.ID)

	appID, status, err := parseReviewData(query.Data)
	if err != nil {
		b.log.Debugw("Ignoring callback", "error", err)
		b.answerCallback(query.ID, MsgBadButton, false)
		return
	}

	user, err := b.deps.Users.GetUserByTelegramID(ctx, query.From.ID)
	if err != nil {
		if errors.Is(err, errors.ErrCodeNotFound) {
			b.answerCallback(query.ID, MsgNotLinked, true)
			return
		}
		b.log.Errorw("Failed to load reviewer", "telegram_id", query.From.ID, "error", err)
		b.answerCallback(query.ID, MsgFailed, true)
		return
	}

	app, err := b.deps.Authority.Review(ctx, security.NewPrincipal(user), services.Decision{
		ApplicationID: appID,
		Status:        string(status),
		Comment:       decisionComment(status, user.DisplayName()),
		Source:        models.CommentSourceBot,
		RequireLive:   true,
	})
	if err != nil {
		b.answerCallback(query.ID, errors.MessageOf(err), true)
		if errors.CodeOf(err) == errors.ErrCodeConflict && query.Message != nil {
			b.removeKeyboard(query.Message.Chat.ID, query.Message.MessageID)
		}
		if errors.CodeOf(err) == errors.ErrCodeInternalError {
			b.log.Errorw("Review via Telegram failed", "application_id", appID, "error", err)
		}
		return
	}

	b.log.Infow("Application reviewed via Telegram",
		"application_id", app.ID, "status", app.Status, "reviewer_id", user.ID)
	b.answerCallback(query.ID, "Application "+strings.ToLower(string(app.Status))+" successfully", false)
	if query.Message != nil {
		b.removeKeyboard(query.Message.Chat.ID, query.Message.MessageID)
	}
}

func (b *Bridge) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start", "login":
		if !message.Chat.IsPrivate() {
			b.reply(message, MsgPrivateOnly, nil)
			return
		}
		b.sendLogin(ctx, message)

	case "status":
		if !message.Chat.IsPrivate() {
			b.reply(message, MsgPrivateOnly, nil)
			return
		}
		b.sendStatus(ctx, message)

	case "help":
		b.reply(message, MsgHelp, nil)
	}
}

// sendLogin upserts the sender and replies with a signed portal link.
func (b *Bridge) sendLogin(ctx context.Context, message *tgbotapi.Message) {
	from := message.From
	fullName := strings.TrimSpace(from.FirstName + " " + from.LastName)

	user, err := b.deps.Users.SignIn(ctx, services.Profile{
		TelegramID: from.ID,
		Username:   from.UserName,
		FullName:   fullName,
	})
	if err != nil {
		b.log.Errorw("Sign-in via Telegram failed", "telegram_id", from.ID, "error", err)
		b.reply(message, MsgFailed, nil)
		return
	}

	loginURL, err := b.deps.Users.LoginURL(user)
	if err != nil {
		b.log.Errorw("Failed to build login link", "user_id", user.ID, "error", err)
		b.reply(message, MsgFailed, nil)
		return
	}

	text := MsgLogin
	if message.Command() == "start" {
		text = MsgWelcome
	}
	b.reply(message, text, LoginKeyboard(loginURL))
}

func (b *Bridge) sendStatus(ctx context.Context, message *tgbotapi.Message) {
	user, err := b.deps.Users.GetUserByTelegramID(ctx, message.From.ID)
	if err != nil {
		if errors.Is(err, errors.ErrCodeNotFound) {
			b.reply(message, MsgNoApps, nil)
			return
		}
		b.log.Errorw("Failed to load user", "telegram_id", message.From.ID, "error", err)
		b.reply(message, MsgFailed, nil)
		return
	}

	apps, err := b.deps.Ledger.ListForUser(ctx, user.ID)
	if err != nil {
		b.log.Errorw("Failed to list applications", "user_id", user.ID, "error", err)
		b.reply(message, MsgFailed, nil)
		return
	}
	b.reply(message, FormatApplications(apps), nil)
}

func (b *Bridge) reply(message *tgbotapi.Message, text string, keyboard interface{}) {
	if _, err := b.sendMessage(message.Chat.ID, text, keyboard); err != nil {
		b.log.Warnw("Reply failed", "chat_id", message.Chat.ID, "error", err)
	}
}
