// Package notifytest provides an in-memory notify.Notifier for tests.
package notifytest

import (
	"context"
	"sync"

	"github.com/mroshb/clan_portal/internal/notify"
)

// Recorder stores every call it receives. Set Err to make calls fail.
type Recorder struct {
	mu sync.Mutex

	Err error

	Announced []notify.ApplicationPayload
	Changed   []notify.ApplicationPayload
	Grants    []notify.RoleGrant
	Calls     int
}

func (r *Recorder) AnnounceNewApplication(ctx context.Context, app notify.ApplicationPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	if r.Err != nil {
		return r.Err
	}
	r.Announced = append(r.Announced, app)
	return nil
}

func (r *Recorder) AnnounceStatusChange(ctx context.Context, app notify.ApplicationPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	if r.Err != nil {
		return r.Err
	}
	r.Changed = append(r.Changed, app)
	return nil
}

func (r *Recorder) GrantRoles(ctx context.Context, grant notify.RoleGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	if r.Err != nil {
		return r.Err
	}
	r.Grants = append(r.Grants, grant)
	return nil
}

func (r *Recorder) SetErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Err = err
}

// Snapshot returns copies of the recorded calls.
func (r *Recorder) Snapshot() (announced, changed []notify.ApplicationPayload, grants []notify.RoleGrant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	announced = append(announced, r.Announced...)
	changed = append(changed, r.Changed...)
	grants = append(grants, r.Grants...)
	return announced, changed, grants
}
