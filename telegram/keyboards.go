package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mroshb/clan_portal/internal/models"
)

// Review button actions, as carried in callback data "<action>:<id>".
const (
	ActionApprove   = "approve"
	ActionInterview = "interview"
	ActionReject    = "reject"
)

var actionStatus = map[string]models.ApplicationStatus{
	ActionApprove:   models.StatusAccepted,
	ActionInterview: models.StatusInterview,
	ActionReject:    models.StatusRejected,
}

// ReviewKeyboard creates the decision buttons posted under a new application.
func ReviewKeyboard(applicationID uint) tgbotapi.InlineKeyboardMarkup {
	id := strconv.FormatUint(uint64(applicationID), 10)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(BtnApprove, ActionApprove+":"+id),
			tgbotapi.NewInlineKeyboardButtonData(BtnInterview, ActionInterview+":"+id),
			tgbotapi.NewInlineKeyboardButtonData(BtnReject, ActionReject+":"+id),
		),
	)
}

// LoginKeyboard creates a single button opening the portal login link.
func LoginKeyboard(loginURL string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(BtnOpenPortal, loginURL),
		),
	)
}

// parseReviewData decodes review callback data into the application id and
// the requested status.
func parseReviewData(data string) (uint, models.ApplicationStatus, error) {
	action, rawID, ok := strings.Cut(data, ":")
	if !ok {
		return 0, "", fmt.Errorf("malformed callback data %q", data)
	}
	status, ok := actionStatus[action]
	if !ok {
		return 0, "", fmt.Errorf("unknown action %q", action)
	}
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil || id == 0 {
		return 0, "", fmt.Errorf("invalid application id %q", rawID)
	}
	return uint(id), status, nil
}
