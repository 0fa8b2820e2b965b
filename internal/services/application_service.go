package services

import (
	"context"
	"fmt"

	"github.com/mroshb/clan_portal/internal/metrics"
	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/notify"
	"github.com/mroshb/clan_portal/internal/repositories"
	"github.com/mroshb/clan_portal/internal/security"
	"github.com/mroshb/clan_portal/pkg/errors"
	"github.com/mroshb/clan_portal/pkg/logger"
)

type SubmitInput struct {
	VillageID uint   `json:"villageId"`
	ClanID    *uint  `json:"clanId"`
	Biography string `json:"biography"`
}

type ReviewInput struct {
	ApplicationID uint
	Status        string
	Comment       string
	ActorID       uint
	// Source is models.CommentSourceWeb or models.CommentSourceBot.
	Source string
	// RequireLive rejects decisions on applications that are no longer
	// PENDING or INTERVIEW.
	RequireLive bool
}

type LedgerOptions struct {
	// StrictCapacity also checks village capacity at submission and
	// ACCEPTED counts at acceptance.
	StrictCapacity bool
}

// ApplicationService is the application ledger: submission with capacity
// admission, status transitions, and the audit trail.
type ApplicationService struct {
	store  *repositories.Store
	events EventPublisher
	census CensusCache
	opts   LedgerOptions
}

func NewApplicationService(store *repositories.Store, events EventPublisher, census CensusCache, opts LedgerOptions) *ApplicationService {
	if events == nil {
		events = noopPublisher{}
	}
	if census == nil {
		census = noopCensus{}
	}
	return &ApplicationService{store: store, events: events, census: census, opts: opts}
}

// Submit creates a PENDING application. Admission runs in one transaction
// holding row locks on the user, the village and the clan, so concurrent
// submissions cannot overfill a clan or give a user two live applications.
func (s *ApplicationService) Submit(ctx context.Context, userID uint, in SubmitInput) (*models.Application, error) {
	biography := security.SanitizeText(in.Biography, security.MaxBiographyLength)
	if biography == "" {
		metrics.ApplicationsSubmittedTotal.WithLabelValues("invalid").Inc()
		return nil, errors.New(errors.ErrCodeValidation, "biography is required")
	}

	var app *models.Application
	err := s.store.Transaction(ctx, func(tx *repositories.Store) error {
		if _, err := tx.Users.LockUser(ctx, userID); err != nil {
			return err
		}

		live, err := tx.Applications.CountLiveForUser(ctx, userID, 0)
		if err != nil {
			return err
		}
		if live > 0 {
			return errors.New(errors.ErrCodeConflict, "existing pending application")
		}

		village, err := tx.Villages.LockVillage(ctx, in.VillageID)
		if err != nil {
			return err
		}

		if in.ClanID != nil {
			if err := s.admitToClan(ctx, tx, *in.ClanID, village.ID, 0); err != nil {
				return err
			}
		}

		if s.opts.StrictCapacity {
			seats, err := tx.Applications.CountInVillage(ctx, village.ID, models.SeatStatuses, 0)
			if err != nil {
				return err
			}
			if seats >= int64(village.Capacity) {
				return errors.New(errors.ErrCodeConflict, "village full")
			}
		}

		created := &models.Application{
			UserID:    userID,
			VillageID: village.ID,
			ClanID:    in.ClanID,
			Biography: biography,
			Status:    models.StatusPending,
		}
		if err := tx.Applications.CreateApplication(ctx, created); err != nil {
			return err
		}

		app, err = tx.Applications.GetApplicationDetails(ctx, created.ID)
		if err != nil {
			return err
		}

		return s.events.Publish(ctx, tx.Outbox, notify.Event{
			Kind:        notify.KindApplicationSubmitted,
			Application: payloadPtr(notify.NewApplicationPayload(app)),
		})
	})
	if err != nil {
		metrics.ApplicationsSubmittedTotal.WithLabelValues(outcomeOf(err)).Inc()
		return nil, err
	}

	s.events.Kick()
	metrics.ApplicationsSubmittedTotal.WithLabelValues("created").Inc()
	logger.Info("Application submitted",
		"application_id", app.ID, "user_id", userID, "village_id", app.VillageID, "clan_id", app.ClanID)
	return app, nil
}

// admitToClan locks the clan and checks it belongs to villageID and has a
// free seat, not counting excludeID.
func (s *ApplicationService) admitToClan(ctx context.Context, tx *repositories.Store, clanID, villageID, excludeID uint) error {
	clan, err := tx.Villages.LockClan(ctx, clanID)
	if err != nil {
		return err
	}
	if clan.VillageID != villageID {
		return errors.New(errors.ErrCodeValidation, "clan not in village")
	}

	seats, err := tx.Applications.CountInClan(ctx, clan.ID, models.SeatStatuses, excludeID)
	if err != nil {
		return err
	}
	if seats >= int64(clan.Capacity) {
		return errors.New(errors.ErrCodeConflict, "clan full")
	}
	return nil
}

// Review moves an application to a new status and records the comment.
// Effects on the notification bridge are written to the outbox in the same
// transaction.
func (s *ApplicationService) Review(ctx context.Context, in ReviewInput) (*models.Application, error) {
	source := in.Source
	if source == "" {
		source = models.CommentSourceWeb
	}
	comment := security.SanitizeText(in.Comment, security.MaxCommentLength)

	var (
		app      *models.Application
		previous models.ApplicationStatus
	)
	err := s.store.Transaction(ctx, func(tx *repositories.Store) error {
		current, err := tx.Applications.GetApplicationByID(ctx, in.ApplicationID)
		if err != nil {
			return err
		}

		status, ok := models.ParseReviewStatus(in.Status)
		if !ok {
			return errors.New(errors.ErrCodeValidation, fmt.Sprintf("unrecognized status %q", in.Status))
		}

		if _, err := tx.Users.LockUser(ctx, current.UserID); err != nil {
			return err
		}
		// Re-read under the user lock so the guards see the latest status.
		current, err = tx.Applications.GetApplicationByID(ctx, in.ApplicationID)
		if err != nil {
			return err
		}
		previous = current.Status

		if in.RequireLive && !previous.IsLive() {
			return errors.New(errors.ErrCodeConflict, "application already decided")
		}

		if err := s.checkTransition(ctx, tx, current, status); err != nil {
			return err
		}

		current.Status = status
		if err := tx.Applications.UpdateStatus(ctx, current); err != nil {
			return err
		}

		if comment != "" {
			entry := &models.Comment{
				ApplicationID: current.ID,
				Source:        source,
				Content:       comment,
			}
			if in.ActorID != 0 {
				entry.AuthorID = &in.ActorID
			}
			if err := tx.Applications.AddComment(ctx, entry); err != nil {
				return err
			}
		}

		app, err = tx.Applications.GetApplicationDetails(ctx, current.ID)
		if err != nil {
			return err
		}

		return s.publishTransition(ctx, tx, app, previous, comment, in.ActorID)
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, app, previous, source)
	logger.Info("Application reviewed",
		"application_id", app.ID, "from", previous, "to", app.Status, "actor_id", in.ActorID, "source", source)
	return app, nil
}

// checkTransition enforces the invariants a permissive transition table
// could otherwise break: one live application per user, and no clan
// overfill when an application takes a seat again.
func (s *ApplicationService) checkTransition(ctx context.Context, tx *repositories.Store, app *models.Application, next models.ApplicationStatus) error {
	if next.IsLive() {
		others, err := tx.Applications.CountLiveForUser(ctx, app.UserID, app.ID)
		if err != nil {
			return err
		}
		if others > 0 {
			return errors.New(errors.ErrCodeConflict, "user already has a live application")
		}
	}

	needsSeat := app.ClanID != nil && next.HoldsSeat() && !app.Status.HoldsSeat()
	strictAccept := s.opts.StrictCapacity && next == models.StatusAccepted && app.Status != models.StatusAccepted
	if !needsSeat && !strictAccept {
		return nil
	}

	// Village before clan, the same order Submit locks in.
	village, err := tx.Villages.LockVillage(ctx, app.VillageID)
	if err != nil {
		return err
	}

	if needsSeat {
		if err := s.admitToClan(ctx, tx, *app.ClanID, village.ID, app.ID); err != nil {
			return err
		}
	}

	if strictAccept {
		accepted := []models.ApplicationStatus{models.StatusAccepted}

		count, err := tx.Applications.CountInVillage(ctx, village.ID, accepted, app.ID)
		if err != nil {
			return err
		}
		if count >= int64(village.Capacity) {
			return errors.New(errors.ErrCodeConflict, "village full")
		}

		if app.ClanID != nil {
			clan, err := tx.Villages.LockClan(ctx, *app.ClanID)
			if err != nil {
				return err
			}
			count, err = tx.Applications.CountInClan(ctx, clan.ID, accepted, app.ID)
			if err != nil {
				return err
			}
			if count >= int64(clan.Capacity) {
				return errors.New(errors.ErrCodeConflict, "clan full")
			}
		}
	}
	return nil
}

func (s *ApplicationService) publishTransition(ctx context.Context, tx *repositories.Store, app *models.Application, previous models.ApplicationStatus, comment string, actorID uint) error {
	if app.Status == previous {
		return nil
	}

	payload := notify.NewApplicationPayload(app)
	payload.PreviousStatus = string(previous)
	payload.Comment = comment
	if actorID != 0 {
		if actor, err := tx.Users.GetUserByID(ctx, actorID); err == nil {
			payload.Actor = actor.DisplayName()
		}
	}

	if err := s.events.Publish(ctx, tx.Outbox, notify.Event{
		Kind:        notify.KindStatusChanged,
		Application: &payload,
	}); err != nil {
		return err
	}

	if app.Status != models.StatusAccepted {
		return nil
	}
	return s.events.Publish(ctx, tx.Outbox, notify.Event{
		Kind: notify.KindRolesGrant,
		Grant: &notify.RoleGrant{
			ApplicationID: app.ID,
			TelegramID:    payload.TelegramID,
			VillageName:   payload.VillageName,
			ClanName:      payload.ClanName,
		},
	})
}

func (s *ApplicationService) afterTransition(ctx context.Context, app *models.Application, previous models.ApplicationStatus, source string) {
	if app.Status == previous {
		return
	}
	s.events.Kick()
	metrics.ApplicationReviewsTotal.WithLabelValues(string(app.Status), source).Inc()
	if app.Status == models.StatusAccepted || previous == models.StatusAccepted {
		s.census.Invalidate(ctx)
	}
}

// Archive moves any application to ARCHIVED. It is the only way into that
// status.
func (s *ApplicationService) Archive(ctx context.Context, applicationID, actorID uint) (*models.Application, error) {
	var (
		app      *models.Application
		previous models.ApplicationStatus
	)
	err := s.store.Transaction(ctx, func(tx *repositories.Store) error {
		current, err := tx.Applications.GetApplicationByID(ctx, applicationID)
		if err != nil {
			return err
		}
		previous = current.Status

		if previous != models.StatusArchived {
			current.Status = models.StatusArchived
			if err := tx.Applications.UpdateStatus(ctx, current); err != nil {
				return err
			}

			note := &models.Comment{
				ApplicationID: current.ID,
				Source:        models.CommentSourceSystem,
				Content:       fmt.Sprintf("Application archived (was %s)", previous),
			}
			if actorID != 0 {
				note.AuthorID = &actorID
			}
			if err := tx.Applications.AddComment(ctx, note); err != nil {
				return err
			}
		}

		app, err = tx.Applications.GetApplicationDetails(ctx, current.ID)
		if err != nil {
			return err
		}
		return s.publishTransition(ctx, tx, app, previous, "", actorID)
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, app, previous, models.CommentSourceSystem)
	return app, nil
}

func (s *ApplicationService) Get(ctx context.Context, id uint) (*models.Application, error) {
	return s.store.Applications.GetApplicationDetails(ctx, id)
}

// ListForUser returns the user's applications, newest first.
func (s *ApplicationService) ListForUser(ctx context.Context, userID uint) ([]models.Application, error) {
	return s.store.Applications.ListApplications(ctx, repositories.ApplicationFilter{UserID: userID})
}

func (s *ApplicationService) ListAll(ctx context.Context, filter repositories.ApplicationFilter) ([]models.Application, error) {
	return s.store.Applications.ListApplications(ctx, filter)
}

func payloadPtr(p notify.ApplicationPayload) *notify.ApplicationPayload {
	return &p
}

func outcomeOf(err error) string {
	switch errors.CodeOf(err) {
	case errors.ErrCodeConflict:
		return "conflict"
	case errors.ErrCodeNotFound:
		return "not_found"
	case errors.ErrCodeValidation:
		return "invalid"
	default:
		return "error"
	}
}
