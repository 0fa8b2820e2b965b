// Package notify carries application events from the ledger to outbound
// sinks such as the Telegram bridge.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mroshb/clan_portal/internal/models"
)

const (
	KindApplicationSubmitted = "application.submitted"
	KindStatusChanged        = "application.status_changed"
	KindRolesGrant           = "member.roles_grant"
)

// ApplicationPayload is a self-contained snapshot of an application, so
// sinks never have to read the primary store.
type ApplicationPayload struct {
	ApplicationID  uint      `json:"application_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Biography      string    `json:"biography"`
	UserID         uint      `json:"user_id"`
	TelegramID     int64     `json:"telegram_id"`
	Username       string    `json:"username,omitempty"`
	FullName       string    `json:"full_name"`
	VillageID      uint      `json:"village_id"`
	VillageName    string    `json:"village_name"`
	ClanID         *uint     `json:"clan_id,omitempty"`
	ClanName       string    `json:"clan_name,omitempty"`
	Comment        string    `json:"comment,omitempty"`
	Actor          string    `json:"actor,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// RoleGrant asks a sink to grant the accepted member the groups named after
// their village and clan.
type RoleGrant struct {
	ApplicationID uint   `json:"application_id"`
	TelegramID    int64  `json:"telegram_id"`
	VillageName   string `json:"village_name"`
	ClanName      string `json:"clan_name,omitempty"`
}

// Event is one outbound effect. Exactly one of Application or Grant is set.
type Event struct {
	Key         string              `json:"key"`
	Kind        string              `json:"kind"`
	Application *ApplicationPayload `json:"application,omitempty"`
	Grant       *RoleGrant          `json:"grant,omitempty"`
}

// Notifier is the outbound contract of the notification bridge.
type Notifier interface {
	AnnounceNewApplication(ctx context.Context, app ApplicationPayload) error
	AnnounceStatusChange(ctx context.Context, app ApplicationPayload) error
	GrantRoles(ctx context.Context, grant RoleGrant) error
}

// NewApplicationPayload snapshots app. User, Village and Clan should be
// loaded; missing relations leave their fields empty.
func NewApplicationPayload(app *models.Application) ApplicationPayload {
	p := ApplicationPayload{
		ApplicationID: app.ID,
		Status:        string(app.Status),
		Biography:     app.Biography,
		UserID:        app.UserID,
		VillageID:     app.VillageID,
		ClanID:        app.ClanID,
		CreatedAt:     app.CreatedAt,
	}
	if app.User != nil {
		p.TelegramID = app.User.TelegramID
		p.Username = app.User.Username
		p.FullName = app.User.FullName
	}
	if app.Village != nil {
		p.VillageName = app.Village.Name
	}
	if app.Clan != nil {
		p.ClanName = app.Clan.Name
	}
	return p
}

func (e Event) validate() error {
	switch e.Kind {
	case KindApplicationSubmitted, KindStatusChanged:
		if e.Application == nil {
			return fmt.Errorf("event %s has no application payload", e.Kind)
		}
	case KindRolesGrant:
		if e.Grant == nil {
			return fmt.Errorf("event %s has no grant payload", e.Kind)
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

func (e Event) encode() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeEvent(raw string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return e, fmt.Errorf("decode event: %w", err)
	}
	return e, e.validate()
}

// Deliver routes e to the matching Notifier method.
func Deliver(ctx context.Context, n Notifier, e Event) error {
	if err := e.validate(); err != nil {
		return err
	}
	switch e.Kind {
	case KindApplicationSubmitted:
		return n.AnnounceNewApplication(ctx, *e.Application)
	case KindStatusChanged:
		return n.AnnounceStatusChange(ctx, *e.Application)
	default:
		return n.GrantRoles(ctx, *e.Grant)
	}
}
