package ratelimit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mindcare-realtime/internal/apperr"
	"mindcare-realtime/internal/models"
	"mindcare-realtime/internal/observability"
	"mindcare-realtime/internal/telemetry"
)

// Auditor records limit violations.
type Auditor interface {
	Emit(ctx context.Context, rec telemetry.Record)
}

// Limiter gates actions per (user, scope).
type Limiter struct {
	store Store
	rates map[Scope]Rate
	audit Auditor
	log   *zap.Logger
}

func NewLimiter(store Store, rates map[Scope]Rate, audit Auditor, log *zap.Logger) *Limiter {
	return &Limiter{store: store, rates: rates, audit: audit, log: log}
}

// Exempt reports whether the user bypasses every limit.
func Exempt(user models.User) bool {
	return user.IsStaff || user.IsPremium
}

// Allow returns nil when the user may act in scope, or an apperr rate-limit
// error. Unknown scopes and store failures let the action through.
func (l *Limiter) Allow(ctx context.Context, user models.User, scope Scope) error {
	if Exempt(user) {
		return nil
	}
	r, ok := l.rates[scope]
	if !ok {
		return nil
	}

	key := fmt.Sprintf("%s:%d", scope, user.ID)
	allowed, err := l.store.Allow(ctx, key, r)
	if err != nil {
		l.log.Warn("rate limit store failed, allowing", zap.String("scope", string(scope)), zap.Error(err))
		return nil
	}
	if allowed {
		return nil
	}

	l.log.Warn("rate limit exceeded",
		zap.Int64("user_id", user.ID),
		zap.String("scope", string(scope)),
		zap.String("rate", r.String()),
	)
	observability.IncRateLimitRejection(string(scope))
	if l.audit != nil {
		l.audit.Emit(ctx, telemetry.Record{
			Level:  telemetry.LevelWarning,
			Action: "rate_limit_exceeded",
			Text:   fmt.Sprintf("scope %s exceeded %s", scope, r),
			UserID: user.ID,
		})
	}
	return apperr.RateLimited(fmt.Sprintf("too many requests for %s, retry later", scope))
}
