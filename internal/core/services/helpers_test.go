package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
)

var testNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func auditAs(actor string) domain.AuditContext {
	return domain.AuditContext{Actor: actor, Now: testNow}
}

// sequentialIDs returns an ID generator yielding prefix-1, prefix-2, ...
func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func ptr(v float64) *float64 { return &v }

func factor(order int, name string, value float64) domain.RatingStep {
	return domain.RatingStep{Order: order, Name: name, Kind: domain.StepFactor, Value: ptr(value)}
}

func tableFactor(order int, name, table string) domain.RatingStep {
	return domain.RatingStep{Order: order, Name: name, Kind: domain.StepFactor, Table: &domain.TableRef{Name: table}}
}

func operand(order int, op domain.Operand) domain.RatingStep {
	return domain.RatingStep{Order: order, Kind: domain.StepOperand, Operand: op}
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// recordingMetrics counts observations.
type recordingMetrics struct {
	mu          sync.Mutex
	ratings     map[string]int
	transitions map[string]int
	issues      map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		ratings:     map[string]int{},
		transitions: map[string]int{},
		issues:      map[string]int{},
	}
}

func (m *recordingMetrics) ObserveRating(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings[outcome]++
}

func (m *recordingMetrics) CountTransition(subject, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[subject+":"+to]++
}

func (m *recordingMetrics) CountPreflightIssue(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues[code]++
}

var errInjected = errors.New("injected store failure")

// failingStore wraps a Store and fails the nth UpdateVersion made through
// any Update, counting from 1.
type failingStore struct {
	driven.Store
	failAt int
	calls  int
}

func (s *failingStore) Update(ctx context.Context, fn func(driven.Tx) error) error {
	return s.Store.Update(ctx, func(tx driven.Tx) error {
		return fn(&failingTx{Tx: tx, store: s})
	})
}

type failingTx struct {
	driven.Tx
	store *failingStore
}

func (t *failingTx) UpdateVersion(ctx context.Context, v domain.VersionedEntity) (domain.VersionedEntity, error) {
	t.store.calls++
	if t.store.calls == t.store.failAt {
		return domain.VersionedEntity{}, errInjected
	}
	return t.Tx.UpdateVersion(ctx, v)
}

// heldLocker refuses keys listed in held and grants the rest.
type heldLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	taken    []string
	released []string
}

// forget drops the record of earlier lock activity.
func (l *heldLocker) forget() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.taken = nil
	l.released = nil
}

func (l *heldLocker) TryLock(_ context.Context, key string, _ time.Duration) (driven.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, &domain.ConcurrencyConflictError{Subject: "lock", ID: key}
	}
	l.taken = append(l.taken, key)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released = append(l.released, key)
		return nil
	}, nil
}
