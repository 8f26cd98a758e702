// Package presence holds the application state shared by all handlers: the
// arrivals and presence stores, the identity resolver and the panic key.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/auth"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/secret"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/store"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/telemetry"
)

const tracerName = "openlabapi/presence"

const (
	arrivalsStore = "arrivals"
	presenceStore = "presence"
)

// State is built once at startup and shared by every request.
type State struct {
	Arrivals *store.Store[Arrival]
	Presence *store.Store[time.Time]
	Resolver auth.Authenticator
	PanicKey *secret.Value

	metrics *telemetry.PresenceMetrics
	now     func() time.Time
}

// Option configures a State.
type Option func(*State)

// WithClock replaces time.Now for server-assigned timestamps and entry expiry.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		s.now = now
	}
}

// WithMetrics records store writes and panics on m.
func WithMetrics(m *telemetry.PresenceMetrics) Option {
	return func(s *State) {
		s.metrics = m
	}
}

// New creates the two stores with the given TTL. The State takes ownership of
// panicKey.
func New(resolver auth.Authenticator, panicKey *secret.Value, ttl time.Duration, opts ...Option) (*State, error) {
	if resolver == nil {
		return nil, errors.New("presence: resolver is required")
	}
	if panicKey.IsZero() {
		return nil, errors.New("presence: panic key is required")
	}

	s := &State{
		Resolver: resolver,
		PanicKey: panicKey,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	s.Arrivals, err = store.New[Arrival](store.WithName(arrivalsStore), store.WithTTL(ttl), store.WithClock(s.now))
	if err != nil {
		return nil, fmt.Errorf("create arrivals store: %w", err)
	}
	s.Presence, err = store.New[time.Time](store.WithName(presenceStore), store.WithTTL(ttl), store.WithClock(s.now))
	if err != nil {
		return nil, fmt.Errorf("create presence store: %w", err)
	}
	if s.metrics != nil {
		err := s.metrics.ObserveEntries(func() map[string]int {
			return map[string]int{
				arrivalsStore: s.Arrivals.Len(),
				presenceStore: s.Presence.Len(),
			}
		})
		if err != nil {
			return nil, fmt.Errorf("register entry gauge: %w", err)
		}
	}
	return s, nil
}

// Run runs housekeeping for both stores until ctx is cancelled.
func (s *State) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Arrivals.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.Presence.Run(ctx)
	}()
	wg.Wait()
}

// AnnounceArrival records that identity plans to arrive at when. Any earlier
// arrival of the same identity is replaced and its expiry restarts.
func (s *State) AnnounceArrival(ctx context.Context, identity *secret.Value, kind ArrivalType, when time.Time) (Arrival, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "presence.AnnounceArrival",
		attribute.String(telemetry.AttrArrivalType, string(kind)),
	)
	defer span.End()

	if !kind.Valid() {
		return Arrival{}, fmt.Errorf("%w: %q", ErrUnknownArrivalType, kind)
	}
	record := Arrival{
		ArrivalType: kind,
		When:        when,
		EditedAt:    s.now().UTC(),
	}
	if err := s.Arrivals.Insert(ctx, identity, record); err != nil {
		telemetry.RecordError(span, err)
		return Arrival{}, err
	}
	s.recordWrite(ctx, arrivalsStore, "insert")
	return record, nil
}

// WithdrawArrival removes identity's arrival, if any.
func (s *State) WithdrawArrival(ctx context.Context, identity *secret.Value) error {
	if err := s.Arrivals.Remove(ctx, identity); err != nil {
		return err
	}
	s.recordWrite(ctx, arrivalsStore, "remove")
	return nil
}

// ArrivalsByUser returns every live arrival keyed by identity.
func (s *State) ArrivalsByUser() map[string]Arrival {
	return s.Arrivals.Snapshot()
}

// AnnouncePresence marks identity as present now.
func (s *State) AnnouncePresence(ctx context.Context, identity *secret.Value) (time.Time, error) {
	at := s.now().UTC()
	if err := s.Presence.Insert(ctx, identity, at); err != nil {
		return time.Time{}, err
	}
	s.recordWrite(ctx, presenceStore, "insert")
	return at, nil
}

// WithdrawPresence marks identity as gone.
func (s *State) WithdrawPresence(ctx context.Context, identity *secret.Value) error {
	if err := s.Presence.Remove(ctx, identity); err != nil {
		return err
	}
	s.recordWrite(ctx, presenceStore, "remove")
	return nil
}

// Present returns the presence timestamp of every identity currently present.
func (s *State) Present() map[string]time.Time {
	return s.Presence.Snapshot()
}

// Panic wipes both stores on behalf of an operator and records it.
func (s *State) Panic(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "presence.Panic")
	defer span.End()

	if err := s.Wipe(ctx); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.AddEvent(span, "store.wiped",
		attribute.StringSlice(telemetry.AttrStoreName, []string{arrivalsStore, presenceStore}),
	)

	if s.metrics != nil {
		s.metrics.RecordPanic(ctx)
	}
	slog.WarnContext(ctx, "panic: all arrivals and presence wiped")
	return nil
}

// Wipe empties both stores. Both are invalidated before either is drained
// and Wipe returns only once both are drained, so no entry is reachable
// afterwards. Draining is not abandoned if ctx is cancelled.
func (s *State) Wipe(ctx context.Context) error {
	s.Arrivals.InvalidateAll()
	s.Presence.InvalidateAll()

	drain := context.WithoutCancel(ctx)
	return errors.Join(
		s.Arrivals.RunPendingTasks(drain),
		s.Presence.RunPendingTasks(drain),
	)
}

// CheckPanicKey compares candidate with the configured panic key in constant
// time.
func (s *State) CheckPanicKey(candidate *secret.Value) bool {
	if candidate.IsZero() || s.PanicKey.IsZero() {
		return false
	}
	return s.PanicKey.Equal(candidate)
}

func (s *State) recordWrite(ctx context.Context, storeName, op string) {
	if s.metrics != nil {
		s.metrics.RecordWrite(ctx, storeName, op)
	}
}
