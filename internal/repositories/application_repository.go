package repositories

import (
	"context"

	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/pkg/errors"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// ApplicationFilter narrows ListApplications. Zero values match everything.
type ApplicationFilter struct {
	Status    models.ApplicationStatus
	VillageID uint
	ClanID    uint
	UserID    uint
	Limit     int
	Offset    int
}

type ApplicationRepository struct {
	db *gorm.DB
}

func NewApplicationRepository(db *gorm.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

func commentsNewestFirst(db *gorm.DB) *gorm.DB {
	return db.Order("created_at DESC").Order("id DESC")
}

func (r *ApplicationRepository) withDetails(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("User").
		Preload("Village").
		Preload("Clan").
		Preload("Comments", commentsNewestFirst).
		Preload("Comments.Author")
}

func (r *ApplicationRepository) CreateApplication(ctx context.Context, app *models.Application) error {
	err := r.db.WithContext(ctx).Omit("User", "Village", "Clan", "Comments").Create(app).Error
	return writeError(err, "application already exists", "failed to create application")
}

// GetApplicationByID loads the application without relations.
func (r *ApplicationRepository) GetApplicationByID(ctx context.Context, id uint) (*models.Application, error) {
	var app models.Application
	if err := r.db.WithContext(ctx).First(&app, id).Error; err != nil {
		return nil, lookupError(err, "application not found", "failed to get application")
	}
	return &app, nil
}

// GetApplicationDetails loads the application with user, village, clan and
// comments (newest first).
func (r *ApplicationRepository) GetApplicationDetails(ctx context.Context, id uint) (*models.Application, error) {
	var app models.Application
	if err := r.withDetails(ctx).First(&app, id).Error; err != nil {
		return nil, lookupError(err, "application not found", "failed to get application")
	}
	return &app, nil
}

// UpdateStatus persists app.Status.
func (r *ApplicationRepository) UpdateStatus(ctx context.Context, app *models.Application) error {
	err := r.db.WithContext(ctx).Model(app).Omit("User", "Village", "Clan", "Comments").Update("status", app.Status).Error
	return writeError(err, "application conflict", "failed to update application status")
}

func (r *ApplicationRepository) AddComment(ctx context.Context, comment *models.Comment) error {
	err := r.db.WithContext(ctx).Omit("Author").Create(comment).Error
	return writeError(err, "comment already exists", "failed to add comment")
}

// ListComments returns the audit trail newest first.
func (r *ApplicationRepository) ListComments(ctx context.Context, applicationID uint) ([]models.Comment, error) {
	var comments []models.Comment
	err := commentsNewestFirst(r.db.WithContext(ctx).Preload("Author")).
		Where("application_id = ?", applicationID).
		Find(&comments).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list comments")
	}
	return comments, nil
}

func (r *ApplicationRepository) ListApplications(ctx context.Context, filter ApplicationFilter) ([]models.Application, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := r.withDetails(ctx)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.VillageID != 0 {
		query = query.Where("village_id = ?", filter.VillageID)
	}
	if filter.ClanID != 0 {
		query = query.Where("clan_id = ?", filter.ClanID)
	}
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}

	var apps []models.Application
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&apps).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list applications")
	}
	return apps, nil
}

// CountLiveForUser counts the user's PENDING and INTERVIEW applications,
// ignoring excludeID.
func (r *ApplicationRepository) CountLiveForUser(ctx context.Context, userID, excludeID uint) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.Application{}).
		Where("user_id = ? AND status IN ?", userID, models.LiveStatuses)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternalError, "failed to count live applications")
	}
	return count, nil
}

// CountInClan counts applications for the clan in any of statuses,
// ignoring excludeID.
func (r *ApplicationRepository) CountInClan(ctx context.Context, clanID uint, statuses []models.ApplicationStatus, excludeID uint) (int64, error) {
	return r.countWhere(ctx, "clan_id", clanID, statuses, excludeID)
}

// CountInVillage counts applications for the village in any of statuses,
// ignoring excludeID.
func (r *ApplicationRepository) CountInVillage(ctx context.Context, villageID uint, statuses []models.ApplicationStatus, excludeID uint) (int64, error) {
	return r.countWhere(ctx, "village_id", villageID, statuses, excludeID)
}

func (r *ApplicationRepository) countWhere(ctx context.Context, column string, id uint, statuses []models.ApplicationStatus, excludeID uint) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.Application{}).
		Where(column+" = ? AND status IN ?", id, statuses)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternalError, "failed to count applications")
	}
	return count, nil
}

type groupCount struct {
	GroupID uint
	Total   int64
}

// AcceptedCounts returns ACCEPTED application counts keyed by village ID and
// by clan ID.
func (r *ApplicationRepository) AcceptedCounts(ctx context.Context) (map[uint]int, map[uint]int, error) {
	byVillage, err := r.acceptedBy(ctx, "village_id")
	if err != nil {
		return nil, nil, err
	}
	byClan, err := r.acceptedBy(ctx, "clan_id")
	if err != nil {
		return nil, nil, err
	}
	return byVillage, byClan, nil
}

func (r *ApplicationRepository) acceptedBy(ctx context.Context, column string) (map[uint]int, error) {
	var rows []groupCount
	err := r.db.WithContext(ctx).Model(&models.Application{}).
		Select(column+" AS group_id, COUNT(*) AS total").
		Where("status = ? AND "+column+" IS NOT NULL", models.StatusAccepted).
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to count accepted members")
	}

	counts := make(map[uint]int, len(rows))
	for _, row := range rows {
		counts[row.GroupID] = int(row.Total)
	}
	return counts, nil
}
