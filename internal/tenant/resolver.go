// Package tenant works out which tenant a request belongs to.
package tenant

import (
	"context"
	"net"
	"strings"

	"github.com/lalith-99/agenda/internal/models"
	"github.com/lalith-99/agenda/internal/observ"
	"go.uber.org/zap"
)

// OverrideQueryParam lets a request pick its tenant explicitly, which is
// how local development reaches tenants without DNS.
const OverrideQueryParam = "subdomain"

// Key picks the directory key for a request: the override if present,
// then the host's first label when the host has more than two labels,
// then defaultKey. Bare hosts such as "localhost" and IP addresses fall
// through to the default.
func Key(host, override, defaultKey string) string {
	if o := strings.TrimSpace(override); o != "" {
		return strings.ToLower(o)
	}

	host = strings.ToLower(strings.Trim(strings.TrimSpace(stripPort(host)), "[]"))
	if host == "" || net.ParseIP(host) != nil {
		return defaultKey
	}
	labels := strings.Split(host, ".")
	if len(labels) > 2 && labels[0] != "" {
		return labels[0]
	}
	return defaultKey
}

// Resolver maps request hosts to tenant configurations. It never fails:
// a miss or a directory error yields the default tenant, so resolution
// cannot block a response.
type Resolver struct {
	dir        Directory
	defaultKey string
	metrics    *observ.Metrics
	logger     *zap.Logger
}

func NewResolver(dir Directory, defaultKey string, metrics *observ.Metrics, logger *zap.Logger) *Resolver {
	if defaultKey == "" {
		defaultKey = DefaultTenant().Subdomain
	}
	return &Resolver{dir: dir, defaultKey: defaultKey, metrics: metrics, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, host, override string) *models.Tenant {
	key := Key(host, override, r.defaultKey)

	t, err := r.dir.GetBySubdomain(ctx, key)
	if err != nil {
		r.logger.Warn("tenant lookup failed, using default",
			zap.String("host", host),
			zap.String("key", key),
			zap.Error(err),
		)
	}
	if t != nil {
		return t
	}

	r.metrics.ObserveTenantFallback()
	if err == nil && key != r.defaultKey {
		r.logger.Debug("unknown tenant, using default", zap.String("key", key))
	}
	return r.Default(ctx)
}

// Default returns the default tenant's full configuration, from the
// directory when it has one and the built-in demo tenant otherwise.
func (r *Resolver) Default(ctx context.Context) *models.Tenant {
	t, err := r.dir.GetBySubdomain(ctx, r.defaultKey)
	if err == nil && t != nil {
		return t
	}
	d := DefaultTenant()
	return &d
}

func stripPort(host string) string {
	if strings.Contains(host, ":") {
		if h, _, err := net.SplitHostPort(host); err == nil {
			return h
		}
	}
	return host
}
