package services

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
	"github.com/custodia-labs/ratebook/internal/logger"
)

// Option configures the lifecycle services.
type Option func(*options)

type options struct {
	publisher     driven.EventPublisher
	locker        driven.Locker
	lockTTL       time.Duration
	metrics       driven.Metrics
	newID         func() string
	now           func() time.Time
	requiredRoles []string
}

// WithEventPublisher delivers committed events to publisher.
func WithEventPublisher(publisher driven.EventPublisher) Option {
	return func(o *options) {
		o.publisher = publisher
	}
}

// WithLocker guards transitions so only one runs per record at a time.
// Without a locker, stale writes are still caught by revision checks.
func WithLocker(locker driven.Locker, ttl time.Duration) Option {
	return func(o *options) {
		o.locker = locker
		if ttl > 0 {
			o.lockTTL = ttl
		}
	}
}

// WithMetrics records transitions and preflight issues.
func WithMetrics(metrics driven.Metrics) Option {
	return func(o *options) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithIDGenerator overrides how version, change set and event IDs are made.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithClock overrides the time source used where no audit context
// supplies one.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRequiredRoles sets the roles that must all approve a change set.
func WithRequiredRoles(roles ...string) Option {
	return func(o *options) {
		if len(roles) > 0 {
			o.requiredRoles = append([]string(nil), roles...)
		}
	}
}

func resolveOptions(opts []Option) options {
	resolved := options{
		lockTTL:       30 * time.Second,
		metrics:       nopMetrics{},
		newID:         uuid.NewString,
		now:           time.Now,
		requiredRoles: domain.DefaultApprovalRoles(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&resolved)
		}
	}
	return resolved
}

func versionLockKey(id string) string   { return "version:" + id }
func changeSetLockKey(id string) string { return "changeset:" + id }

// lock takes every key or none. Keys are taken in sorted order so two
// callers locking overlapping sets cannot deadlock.
func (o *options) lock(ctx context.Context, keys ...string) (func(), error) {
	if o.locker == nil {
		return func() {}, nil
	}
	unique := make(map[string]struct{}, len(keys))
	sorted := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := unique[key]; ok {
			continue
		}
		unique[key] = struct{}{}
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	held := make([]driven.UnlockFunc, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i](context.WithoutCancel(ctx)); err != nil {
				logger.Warn("releasing lock: %v", err)
			}
		}
	}
	for _, key := range sorted {
		unlock, err := o.locker.TryLock(ctx, key, o.lockTTL)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, unlock)
	}
	return release, nil
}

// emit publishes events after a commit. A failing publisher never undoes
// the commit; the failure is logged.
func (o *options) emit(ctx context.Context, events []domain.Event) {
	for _, event := range events {
		if o.publisher == nil {
			logger.Debug("event %s for %s dropped: no publisher", event.Type, event.SubjectID)
			continue
		}
		if err := o.publisher.Publish(ctx, event); err != nil {
			logger.Warn("publishing %s for %s: %v", event.Type, event.SubjectID, err)
		}
	}
}

func (o *options) event(typ domain.EventType, subjectType, subjectID string, audit domain.AuditContext, data map[string]any) domain.Event {
	return domain.Event{
		ID:          o.newID(),
		Type:        typ,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Actor:       audit.Actor,
		OccurredAt:  audit.Now,
		Data:        data,
	}
}

type nopMetrics struct{}

func (nopMetrics) ObserveRating(string, time.Duration) {}
func (nopMetrics) CountTransition(string, string)      {}
func (nopMetrics) CountPreflightIssue(string)          {}
