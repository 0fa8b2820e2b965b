package repositories

import (
	"context"
	stderrors "errors"

	"github.com/mroshb/clan_portal/pkg/errors"
	"gorm.io/gorm"
)

// Store groups the repositories over one connection or one transaction.
type Store struct {
	db *gorm.DB

	Users        *UserRepository
	Roles        *RoleRepository
	Villages     *VillageRepository
	Applications *ApplicationRepository
	Settings     *SettingsRepository
	Outbox       *OutboxRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:           db,
		Users:        NewUserRepository(db),
		Roles:        NewRoleRepository(db),
		Villages:     NewVillageRepository(db),
		Applications: NewApplicationRepository(db),
		Settings:     NewSettingsRepository(db),
		Outbox:       NewOutboxRepository(db),
	}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a Store bound to a single transaction. Every
// query inside fn must go through tx.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

func lookupError(err error, notFound, failed string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.New(errors.ErrCodeNotFound, notFound)
	}
	return errors.Wrap(err, errors.ErrCodeInternalError, failed)
}

func writeError(err error, duplicate, failed string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Wrap(err, errors.ErrCodeConflict, duplicate)
	}
	if stderrors.Is(err, gorm.ErrInvalidData) {
		return errors.Wrap(err, errors.ErrCodeValidation, "invalid data")
	}
	return errors.Wrap(err, errors.ErrCodeInternalError, failed)
}
