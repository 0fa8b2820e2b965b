package telegram

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mroshb/clan_portal/internal/middleware"
	"github.com/mroshb/clan_portal/internal/services"
	"github.com/mroshb/clan_portal/pkg/logger"
	"go.uber.org/zap"
)

const (
	workerCount     = 10
	workerQueueSize = 100
	handlerTimeout  = 15 * time.Second
)

// sender is the part of tgbotapi.BotAPI the bridge talks through.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Deps are the portal services the bridge calls into.
type Deps struct {
	Users     *services.UserService
	Ledger    *services.ApplicationService
	Authority *services.ReviewService
	Settings  *services.SettingsService
	Limiter   *middleware.RateLimiter
}

// Bridge connects the portal to Telegram. Outbound it implements
// notify.Notifier; inbound it turns review button presses into decisions
// and serves the sign-in commands.
type Bridge struct {
	api  *tgbotapi.BotAPI
	send sender
	deps Deps
	log  *zap.SugaredLogger

	// Worker pool for parallel processing
	workerChans []chan tgbotapi.Update
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// InitBridge connects to Telegram and starts receiving updates. It returns
// nil without error when token is empty.
func InitBridge(token string, debug bool, deps Deps) (*Bridge, error) {
	if token == "" {
		return nil, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = debug

	b := newBridge(api, deps)
	b.api = api
	b.log.Infow("Authorized on account", "username", api.Self.UserName)

	b.startWorkers()
	b.wg.Add(1)
	go b.startUpdateListener()

	return b, nil
}

func newBridge(s sender, deps Deps) *Bridge {
	return &Bridge{
		send: s,
		deps: deps,
		log:  logger.Named("telegram"),
		stop: make(chan struct{}),
	}
}

func (b *Bridge) startWorkers() {
	b.workerChans = make([]chan tgbotapi.Update, workerCount)
	for i := range b.workerChans {
		b.workerChans[i] = make(chan tgbotapi.Update, workerQueueSize)
		b.wg.Add(1)
		go b.startWorker(b.workerChans[i])
	}
}

func (b *Bridge) startUpdateListener() {
	defer b.wg.Done()
	defer func() {
		for _, ch := range b.workerChans {
			close(ch)
		}
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	for {
		b.log.Infow("Starting update listener")
		updates := b.api.GetUpdatesChan(u)

		for update := range updates {
			b.route(update)
		}

		select {
		case <-b.stop:
			return
		case <-time.After(5 * time.Second):
			b.log.Warnw("Update channel closed, restarting")
		}
	}
}

// route hashes updates by sender so each user's updates run in order.
func (b *Bridge) route(update tgbotapi.Update) {
	userID := senderID(update)
	if userID == 0 {
		return
	}
	idx := userID % int64(len(b.workerChans))
	if idx < 0 {
		idx = -idx
	}
	b.workerChans[idx] <- update
}

func (b *Bridge) startWorker(ch chan tgbotapi.Update) {
	defer b.wg.Done()
	for update := range ch {
		b.handleUpdate(update)
	}
}

func senderID(update tgbotapi.Update) int64 {
	switch {
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		return update.CallbackQuery.From.ID
	}
	return 0
}

func (b *Bridge) handleUpdate(update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("Panic in handleUpdate", "error", r)
		}
	}()

	userID := senderID(update)
	if userID == 0 {
		return
	}
	if b.deps.Limiter != nil && !b.deps.Limiter.CheckUserLimit(userID) {
		if update.CallbackQuery != nil {
			b.answerCallback(update.CallbackQuery.ID, MsgTooFast, true)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	switch {
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

// Stop ends the update listener and waits for in-flight updates.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		if b.api != nil {
			b.api.StopReceivingUpdates()
		}
	})
	b.wg.Wait()
	b.log.Infow("Bridge stopped receiving updates")
}

// sendMessage sends HTML text, retrying network failures.
func (b *Bridge) sendMessage(chatID int64, text string, keyboard interface{}) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	switch kb := keyboard.(type) {
	case tgbotapi.InlineKeyboardMarkup:
		msg.ReplyMarkup = kb
	case tgbotapi.ReplyKeyboardRemove:
		msg.ReplyMarkup = kb
	}

	const maxRetries = 3
	var err error
	for i := 0; i < maxRetries; i++ {
		var sent tgbotapi.Message
		sent, err = b.send.Send(msg)
		if err == nil {
			return sent.MessageID, nil
		}
		b.log.Errorw("Failed to send message", "error", err, "chat_id", chatID, "attempt", i+1)
		if !isNetworkError(err) {
			break
		}
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	return 0, err
}

func (b *Bridge) answerCallback(queryID, text string, showAlert bool) {
	callback := tgbotapi.NewCallback(queryID, text)
	callback.ShowAlert = showAlert
	if _, err := b.send.Request(callback); err != nil {
		b.log.Errorw("Failed to answer callback query", "error", err, "query_id", queryID)
	}
}

func (b *Bridge) removeKeyboard(chatID int64, messageID int) {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	if _, err := b.send.Request(edit); err != nil {
		b.log.Errorw("Failed to remove keyboard", "error", err, "chat_id", chatID, "message_id", messageID)
	}
}

func isNetworkError(err error) bool {
	s := err.Error()
	return strings.Contains(s, "connection reset") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "network is unreachable")
}

// isBlocked reports whether Telegram refused delivery to a private chat,
// e.g. a user who never started the bot or blocked it.
func isBlocked(err error) bool {
	var tgErr *tgbotapi.Error
	return stderrors.As(err, &tgErr) && tgErr.Code == 403
}
