package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tiliavir/timeentry-reconciler/internal/model"
	"github.com/Tiliavir/timeentry-reconciler/internal/timecalc"
	"github.com/Tiliavir/timeentry-reconciler/internal/timezone"
)

// Store is the collaborator holding time entries.
type Store interface {
	// Retrieve returns the periods of all entries of resource with a stored
	// start at or after the first instant of from's day and a stored end at
	// or before the last millisecond of to's day.
	Retrieve(ctx context.Context, resource uuid.UUID, from, to time.Time) ([]model.Period, error)
	// Create persists entry and returns its new ID.
	Create(ctx context.Context, entry model.TimeEntry) (string, error)
}

// Result reports the side effects of Execute.
type Result struct {
	// Created holds the IDs of the siblings created, in creation order. On a
	// partial failure it lists what was created before the failing call.
	Created []string
	Queried bool
	// CandidateID is set by Commit once the candidate itself is stored.
	CandidateID string
}

// Reconciler applies Reconcile to a candidate and creates its siblings.
type Reconciler struct {
	store  Store
	policy Policy
	log    zerolog.Logger
	locks  keyedMutex
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithNormalizer sets the timezone policy used for day boundaries.
func WithNormalizer(n timezone.Normalizer) Option {
	return func(r *Reconciler) { r.policy.Normalizer = n }
}

// WithSameDayCheck enables the duplicate check for single-day candidates.
func WithSameDayCheck(enabled bool) Option {
	return func(r *Reconciler) { r.policy.CheckSameDay = enabled }
}

// WithLogger sets the trace sink.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

// New returns a Reconciler backed by store.
func New(store Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store: store,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the effective policy.
func (r *Reconciler) Policy() Policy {
	return r.policy
}

// Plan computes the outcome for candidate without writing anything.
func (r *Reconciler) Plan(ctx context.Context, candidate model.TimeEntry) (Outcome, error) {
	out, err := Reconcile(ctx, candidate, r.store.Retrieve, r.policy)
	if err != nil {
		return Outcome{}, r.traceError(err, candidate)
	}
	r.log.Debug().
		Str("resource", candidate.ResourceRef.String()).
		Str("day", timecalc.DayKey(out.Candidate.Start)).
		Int("siblings", len(out.Create)).
		Bool("queried", out.Queried).
		Msg("time entry reconciled")
	return out, nil
}

// Execute reconciles candidate in place and creates one entry for every
// further free day. The caller commits whatever Execute leaves in candidate;
// on error candidate is only modified if sibling creation failed, and
// already-created siblings are not rolled back.
//
// Calls for the same resource are serialized within this Reconciler.
func (r *Reconciler) Execute(ctx context.Context, candidate *model.TimeEntry) (Result, error) {
	if candidate == nil {
		return Result{}, errors.New("nil time entry")
	}
	unlock := r.locks.Lock(candidate.ResourceRef)
	defer unlock()
	return r.execute(ctx, candidate)
}

// Commit runs Execute and then persists the candidate itself, the way a host
// commits the triggering record. The candidate is created after its
// siblings, while the resource lock is still held.
func (r *Reconciler) Commit(ctx context.Context, candidate *model.TimeEntry) (Result, error) {
	if candidate == nil {
		return Result{}, errors.New("nil time entry")
	}
	unlock := r.locks.Lock(candidate.ResourceRef)
	defer unlock()

	res, err := r.execute(ctx, candidate)
	if err != nil {
		return res, err
	}
	id, err := r.store.Create(ctx, *candidate)
	if err != nil {
		serr := &StoreError{Op: "create", Resource: candidate.ResourceRef, Err: err}
		return res, r.traceError(serr, *candidate)
	}
	candidate.ID = id
	res.CandidateID = id
	return res, nil
}

func (r *Reconciler) execute(ctx context.Context, candidate *model.TimeEntry) (Result, error) {
	out, err := r.Plan(ctx, *candidate)
	if err != nil {
		return Result{}, err
	}
	*candidate = out.Candidate

	res := Result{Queried: out.Queried}
	for _, sibling := range out.Create {
		r.log.Debug().
			Str("resource", sibling.ResourceRef.String()).
			Str("day", timecalc.DayKey(sibling.Start)).
			Msg("Creating a Time Entry.")
		id, err := r.store.Create(ctx, sibling)
		if err != nil {
			serr := &StoreError{Op: "create", Resource: sibling.ResourceRef, Err: err}
			return res, r.traceError(serr, sibling)
		}
		res.Created = append(res.Created, id)
	}
	return res, nil
}

func (r *Reconciler) traceError(err error, e model.TimeEntry) error {
	switch {
	case errors.Is(err, ErrAllDatesOccupied):
		r.log.Info().Str("resource", e.ResourceRef.String()).Msg(NothingToCreate)
	case errors.Is(err, ErrStore):
		r.log.Error().Err(err).Str("resource", e.ResourceRef.String()).Msg("store call failed")
	default:
		r.log.Error().Err(err).Str("resource", e.ResourceRef.String()).Msg("reconciliation failed")
	}
	return err
}
