package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/notify"
)

// Buttons
const (
	BtnApprove    = "✅ Approve"
	BtnInterview  = "💬 Interview"
	BtnReject     = "❌ Reject"
	BtnOpenPortal = "🌐 Open the portal"
)

// Messages
const (
	MsgWelcome = "👋 Welcome to the clan portal!\n\n" +
		"Use the button below to sign in and apply to a village.\n" +
		"/login sends a fresh sign-in link, /status shows your applications."
	MsgLogin       = "🔑 Your sign-in link is ready. It expires, so use it soon."
	MsgPrivateOnly = "🔒 Send me this command in a private chat."
	MsgNoApps      = "📭 You have not applied yet."
	MsgHelp        = "/start - welcome\n/login - sign-in link\n/status - your applications"
	MsgTooFast     = "⏳ Too many requests, slow down."
	MsgNotLinked   = "🔒 Sign in to the portal with /login before reviewing."
	MsgBadButton   = "⚠️ This button is no longer valid."
	MsgFailed      = "⚠️ Something went wrong. Try again later."
)

var statusEmoji = map[string]string{
	string(models.StatusPending):   "🕓",
	string(models.StatusInterview): "💬",
	string(models.StatusAccepted):  "✅",
	string(models.StatusRejected):  "❌",
	string(models.StatusArchived):  "🗄",
}

func esc(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}

func applicantName(app notify.ApplicationPayload) string {
	if app.Username != "" {
		return "@" + app.Username
	}
	return app.FullName
}

func placement(village, clan string) string {
	if clan == "" {
		return esc(village)
	}
	return fmt.Sprintf("%s / %s", esc(village), esc(clan))
}

// FormatNewApplication renders the staff announcement for a submission.
func FormatNewApplication(app notify.ApplicationPayload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📝 <b>New application #%d</b>\n\n", app.ApplicationID)
	fmt.Fprintf(&sb, "<b>User:</b> %s\n", esc(applicantName(app)))
	fmt.Fprintf(&sb, "<b>Village:</b> %s\n", esc(app.VillageName))
	clan := app.ClanName
	if clan == "" {
		clan = "None"
	}
	fmt.Fprintf(&sb, "<b>Clan:</b> %s\n\n", esc(clan))
	bio := app.Biography
	if bio == "" {
		bio = "No biography provided"
	}
	fmt.Fprintf(&sb, "<b>Biography:</b>\n%s", esc(bio))
	return sb.String()
}

// FormatWelcome renders the public announcement for an accepted member.
func FormatWelcome(app notify.ApplicationPayload) string {
	return fmt.Sprintf("🎉 Welcome %s, the newest member of %s!", esc(applicantName(app)), placement(app.VillageName, app.ClanName))
}

// FormatStatusForApplicant renders the direct message sent on a decision.
func FormatStatusForApplicant(app notify.ApplicationPayload) string {
	var sb strings.Builder
	switch models.ApplicationStatus(app.Status) {
	case models.StatusAccepted:
		fmt.Fprintf(&sb, "✅ Your application to %s was <b>accepted</b>. Welcome aboard!", placement(app.VillageName, app.ClanName))
	case models.StatusInterview:
		fmt.Fprintf(&sb, "💬 Your application to %s moved to <b>interview</b>. A staff member will contact you.", placement(app.VillageName, app.ClanName))
	case models.StatusRejected:
		fmt.Fprintf(&sb, "❌ Your application to %s was <b>rejected</b>.", placement(app.VillageName, app.ClanName))
	default:
		fmt.Fprintf(&sb, "ℹ️ Your application to %s is now %s.", placement(app.VillageName, app.ClanName), esc(app.Status))
	}
	if app.Comment != "" {
		fmt.Fprintf(&sb, "\n\n<i>%s</i>", esc(app.Comment))
	}
	return sb.String()
}

// FormatInvites renders the invite links granted on acceptance.
func FormatInvites(links map[string]string, order []string) string {
	var sb strings.Builder
	sb.WriteString("🔗 Your membership links (single use):\n")
	for _, name := range order {
		fmt.Fprintf(&sb, "\n• %s: %s", esc(name), esc(links[name]))
	}
	return sb.String()
}

// FormatApplications renders /status.
func FormatApplications(apps []models.Application) string {
	if len(apps) == 0 {
		return MsgNoApps
	}
	var sb strings.Builder
	sb.WriteString("📋 <b>Your applications</b>\n")
	for _, app := range apps {
		village, clan := "", ""
		if app.Village != nil {
			village = app.Village.Name
		}
		if app.Clan != nil {
			clan = app.Clan.Name
		}
		fmt.Fprintf(&sb, "\n%s #%d %s: %s (%s)",
			statusEmoji[string(app.Status)], app.ID, placement(village, clan), app.Status, app.CreatedAt.Format("2006-01-02"))
	}
	return sb.String()
}

// decisionComment is the audit comment stored for a decision made in chat.
func decisionComment(status models.ApplicationStatus, actor string) string {
	return fmt.Sprintf("Application %s via Telegram by %s", strings.ToLower(string(status)), actor)
}
