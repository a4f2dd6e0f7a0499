// Package rbac decides which role a user acts with inside a tenant.
package rbac

import (
	"context"
	"time"

	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/observ"
	"github.com/lalith-99/agenda/internal/repository"
	"go.uber.org/zap"
)

// Status is where a resolution stands.
type Status int

const (
	// StatusPending means no answer may be acted on yet: the lookup is in
	// flight or its caller went away.
	StatusPending Status = iota
	StatusResolved
)

// Result is the effective role. Err is set when the store failed and the
// role is the lowest-privilege fallback; it is informational, never fatal.
type Result struct {
	Status   Status
	Role     models.Role
	TenantID string
	Err      error
}

func (r Result) Resolved() bool { return r.Status == StatusResolved }

// Where a resolved role came from, for logs and metrics.
const (
	sourceSession  = "session"
	sourceStore    = "store"
	sourceDefault  = "default"
	sourceFallback = "fallback"
)

type Options struct {
	// Retries is how many extra attempts a failing lookup gets.
	Retries int
	// Backoff is the wait before the first retry; it doubles each time.
	Backoff time.Duration
}

// Resolver answers "which role does this user act with here?".
//
// Roles live in the assignment table as rows of (user, tenant, role), so
// one person can be an admin of a clinic and a client of a barbershop.
// The session user may also carry a role: the one resolved for their
// home tenant at sign-in, refreshed whenever an admin changes it.
//
// Lookups go through a store that can fail. Failures are retried with a
// doubling backoff, and when the retries run out the answer is client.
// The guard treats that like any other role, so an outage denies admin
// routes instead of opening them.
//
// A cancelled context yields StatusPending. The caller stopped waiting,
// and nothing should be decided from a half-finished lookup.
type Resolver struct {
	roles   repository.RoleRepository
	opts    Options
	metrics *observ.Metrics
	logger  *zap.Logger
}

func NewResolver(roles repository.RoleRepository, opts Options, metrics *observ.Metrics, logger *zap.Logger) *Resolver {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Resolver{roles: roles, opts: opts, metrics: metrics, logger: logger}
}

// Resolve returns the role user acts with in tenantID (empty = any tenant).
//
// A role already carried by the user wins without touching the store.
// Otherwise the first assignment row wins, and no rows means client.
// A store that keeps failing also yields client: a lookup error never
// grants more than the lowest privilege.
func (r *Resolver) Resolve(ctx context.Context, user *models.User, tenantID string) Result {
	if user == nil {
		return Result{Status: StatusPending}
	}
	if user.Role != nil {
		r.metrics.ObserveRoleLookup(sourceSession)
		return Result{Status: StatusResolved, Role: *user.Role, TenantID: user.TenantID}
	}

	filter := repository.RoleFilter{UserID: user.ID, TenantID: tenantID}
	backoff := r.opts.Backoff

	var lastErr error
	for attempt := 0; attempt <= r.opts.Retries; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, backoff) {
				return Result{Status: StatusPending, Err: ctx.Err()}
			}
			backoff *= 2
		}

		rows, err := r.roles.List(ctx, filter)
		if ctx.Err() != nil {
			// The caller is gone; whatever came back is stale.
			return Result{Status: StatusPending, Err: ctx.Err()}
		}
		if err != nil {
			lastErr = err
			r.logger.Warn("role lookup failed",
				zap.String("user_id", user.ID.String()),
				zap.String("tenant_id", tenantID),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		if len(rows) == 0 {
			r.metrics.ObserveRoleLookup(sourceDefault)
			return Result{Status: StatusResolved, Role: models.RoleClient}
		}
		r.metrics.ObserveRoleLookup(sourceStore)
		return Result{Status: StatusResolved, Role: rows[0].Role, TenantID: rows[0].TenantID}
	}

	r.metrics.ObserveRoleLookup(sourceFallback)
	r.logger.Error("role lookup exhausted retries, using client role",
		zap.String("user_id", user.ID.String()),
		zap.Error(lastErr),
	)
	return Result{Status: StatusResolved, Role: models.RoleClient, Err: lastErr}
}

// sleep waits d or until ctx is done. It reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
