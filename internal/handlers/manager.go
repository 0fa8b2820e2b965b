package handlers

import (
	"github.com/mroshb/clan_portal/internal/config"
	"github.com/mroshb/clan_portal/internal/middleware"
	"github.com/mroshb/clan_portal/internal/services"
)

// HandlerManager serves the portal's HTTP API.
type HandlerManager struct {
	Config    *config.Config
	Directory *services.DirectoryService
	Ledger    *services.ApplicationService
	Users     *services.UserService
	Settings  *services.SettingsService
	Authority *services.ReviewService
	Limiter   *middleware.RateLimiter
}

func NewHandlerManager(
	cfg *config.Config,
	directory *services.DirectoryService,
	ledger *services.ApplicationService,
	users *services.UserService,
	settings *services.SettingsService,
	authority *services.ReviewService,
	limiter *middleware.RateLimiter,
) *HandlerManager {
	return &HandlerManager{
		Config:    cfg,
		Directory: directory,
		Ledger:    ledger,
		Users:     users,
		Settings:  settings,
		Authority: authority,
		Limiter:   limiter,
	}
}
