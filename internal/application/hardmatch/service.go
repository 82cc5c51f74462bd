// Package hardmatch links on-premises principals to their cloud records by
// writing the immutable id derived from the on-premises objectGUID.
package hardmatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/alexisbeaulieu97/convergo/internal/domain/match"
	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// DefaultParallelism bounds concurrent principal resolutions.
const DefaultParallelism = 4

// Status is the per-principal result reported in rows and events.
type Status string

const (
	StatusAlreadySet  Status = "already_set"
	StatusUpdated     Status = "updated"
	StatusWouldUpdate Status = "would_update"
	StatusNoMatch     Status = "no_match"
	StatusAmbiguous   Status = "ambiguous"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
	StatusError       Status = "error"
)

// AllStatuses lists statuses in summary order.
var AllStatuses = []Status{
	StatusAlreadySet,
	StatusUpdated,
	StatusWouldUpdate,
	StatusNoMatch,
	StatusAmbiguous,
	StatusFailed,
	StatusSkipped,
	StatusError,
}

// Options configures one batch.
type Options struct {
	Domain       string
	UseNicknames bool
	Nicknames    match.Nicknames
	Filter       ports.PrincipalFilter
	Parallelism  int
	SinkID       string
	Reconcile    reconcile.Options
}

// Result is the terminal record for one principal.
type Result struct {
	// Key identifies the principal; for directory errors it is the requested
	// key.
	Key         string
	Principal   match.Principal
	Resolution  match.Resolution
	Status      Status
	ImmutableID string
	Outcome     *reconcile.Outcome
	Err         error
}

// Report aggregates a batch.
type Report struct {
	Results  []Result
	Summary  *reconcile.Summary
	Started  time.Time
	Finished time.Time
}

// Counts returns the number of principals per status.
func (r *Report) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// Failed reports whether any principal needs attention.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		switch res.Status {
		case StatusAlreadySet, StatusUpdated, StatusWouldUpdate:
		default:
			return true
		}
	}
	return false
}

// Service runs hard-match batches.
type Service struct {
	directory ports.DirectoryClient
	remote    match.Lookup
	handlers  ports.HandlerRegistry
	sink      ports.StatusSink
	logger    ports.Logger
	events    ports.EventPublisher
	locks     keyedMutex
	now       func() time.Time
}

// NewService wires a hard-match service. Writes go through the handler
// registered for reconcile.KindImmutableIDSet.
func NewService(directory ports.DirectoryClient, remote match.Lookup, handlers ports.HandlerRegistry, sink ports.StatusSink, logger ports.Logger, events ports.EventPublisher) *Service {
	return &Service{
		directory: directory,
		remote:    remote,
		handlers:  handlers,
		sink:      sink,
		logger:    logger,
		events:    events,
		now:       time.Now,
	}
}

// Run resolves every listed principal, detects collisions across the batch,
// then reconciles the immutable id of each unambiguous match. Per-principal
// failures are captured in the report; the returned error covers invalid
// options, a missing handler and cancellation.
func (s *Service) Run(ctx context.Context, opts Options) (*Report, error) {
	if match.NormalizeDomain(opts.Domain) == "" {
		return nil, reconcile.NewError(reconcile.ErrCodeValidation, "target domain is required", nil, nil)
	}
	if err := opts.Reconcile.Validate(); err != nil {
		return nil, err
	}
	handler, err := s.handlers.Get(reconcile.KindImmutableIDSet)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, reconcile.NewError(reconcile.ErrCodeCancelled, "hard match cancelled", err, nil)
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = DefaultParallelism
	}

	report := &Report{Summary: reconcile.NewSummary(), Started: s.now()}
	results, err := s.collect(ctx, opts.Filter)
	if err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info(ctx, "hard match started", "principals", len(results), "domain", opts.Domain,
			"nicknames", opts.UseNicknames, "parallelism", opts.Parallelism)
	}

	resolver := match.NewResolver(s.remote, match.GenerateOptions{
		Domain:       opts.Domain,
		UseNicknames: opts.UseNicknames,
		Nicknames:    opts.Nicknames,
	})
	if err := s.forEach(ctx, results, opts.Parallelism, func(ctx context.Context, r *Result) {
		s.resolve(ctx, resolver, r)
	}); err != nil {
		return nil, err
	}

	s.markCollisions(results)

	if err := s.forEach(ctx, results, opts.Parallelism, func(ctx context.Context, r *Result) {
		s.converge(ctx, handler, opts.Reconcile, r)
	}); err != nil {
		return nil, err
	}

	sinkID := opts.SinkID
	if sinkID == "" {
		sinkID = "hardmatch"
	}
	for i := range results {
		r := &results[i]
		if r.Outcome != nil {
			report.Summary.Add(*r.Outcome)
		}
		s.publish(ctx, sinkID, r)
	}
	report.Results = results
	report.Finished = s.now()

	if s.logger != nil {
		counts := report.Counts()
		fields := []interface{}{"principals", len(results), "duration_ms", report.Finished.Sub(report.Started).Milliseconds()}
		for _, status := range AllStatuses {
			if counts[status] > 0 {
				fields = append(fields, string(status), counts[status])
			}
		}
		s.logger.Info(ctx, "hard match complete", fields...)
	}
	return report, nil
}

// collect drains the directory listing. Errors for individual keys become
// error results; a cancelled listing aborts the batch.
func (s *Service) collect(ctx context.Context, filter ports.PrincipalFilter) ([]Result, error) {
	var results []Result
	for p, err := range s.directory.ListAllPrincipals(ctx, filter) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, reconcile.NewError(reconcile.ErrCodeCancelled, "principal listing cancelled", ctxErr, nil)
			}
			results = append(results, Result{Key: errorKey(err), Status: StatusError, Err: err})
			continue
		}
		results = append(results, Result{Key: p.Key(), Principal: p})
	}
	return results, nil
}

func (s *Service) forEach(ctx context.Context, results []Result, parallelism int, fn func(context.Context, *Result)) error {
	sem := semaphore.NewWeighted(int64(parallelism))
	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		r := &results[i]
		if r.Status != "" {
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			fn(gctx, r)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return reconcile.NewError(reconcile.ErrCodeCancelled, "hard match cancelled", err, nil)
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, resolver *match.Resolver, r *Result) {
	res, err := resolver.Resolve(ctx, r.Principal)
	r.Resolution = res
	if err == nil {
		return
	}
	r.Err = err
	switch reconcile.CodeOf(err) {
	case reconcile.ErrCodeNoMatch:
		r.Status = StatusNoMatch
	case reconcile.ErrCodeAmbiguousMatch:
		r.Status = StatusAmbiguous
	case reconcile.ErrCodeSourceUnavailable:
		r.Status = StatusSkipped
	default:
		r.Status = StatusError
	}
	if s.logger != nil {
		s.logger.Debug(ctx, "principal not resolved", "principal", r.Key, "status", string(r.Status),
			"tried", res.Tried, "rejected", len(res.Rejected), "error", err)
	}
}

func (s *Service) markCollisions(results []Result) {
	var resolutions []match.Resolution
	for _, r := range results {
		if r.Status == "" {
			resolutions = append(resolutions, r.Resolution)
		}
	}
	for remoteID, claimants := range match.Collisions(resolutions) {
		for i := range results {
			r := &results[i]
			if r.Status == "" && r.Resolution.Record.Ref() == remoteID {
				r.Status = StatusAmbiguous
				r.Err = match.AmbiguousError(r.Key, remoteID, claimants)
			}
		}
	}
}

func (s *Service) converge(ctx context.Context, handler ports.Handler, opts reconcile.Options, r *Result) {
	immutableID, err := match.ImmutableID(r.Principal.ObjectID)
	if err != nil {
		r.Status = StatusFailed
		r.Err = reconcile.PrerequisiteError("principal has no usable objectGUID",
			map[string]interface{}{"principal": r.Key, "object_id": r.Principal.ObjectID})
		return
	}
	r.ImmutableID = immutableID

	record := r.Resolution.Record
	remoteKey := record.UPN
	if remoteKey == "" {
		remoteKey = r.Resolution.Candidate.Key
	}
	target, err := reconcile.NewTarget(targetID(r.Key), reconcile.KindImmutableIDSet, immutableID, map[string]string{
		reconcile.ParamRemoteKey: remoteKey,
		reconcile.ParamLocalKey:  r.Key,
	})
	if err != nil {
		r.Status = StatusFailed
		r.Err = err
		return
	}

	unlock := s.locks.lock(record.Ref())
	outcome := reconcile.Reconcile(ctx, target, handler.Probe, handler.Act, opts)
	unlock()

	r.Outcome = &outcome
	r.Err = outcome.Err
	switch {
	case outcome.Kind == reconcile.OutcomeAlreadySatisfied:
		r.Status = StatusAlreadySet
	case outcome.Kind == reconcile.OutcomeConverged && outcome.Projected:
		r.Status = StatusWouldUpdate
	case outcome.Kind == reconcile.OutcomeConverged:
		r.Status = StatusUpdated
	case outcome.Kind == reconcile.OutcomeSkipped:
		r.Status = StatusSkipped
	default:
		r.Status = StatusFailed
	}
}

func (s *Service) publish(ctx context.Context, sinkID string, r *Result) {
	if s.sink != nil {
		if err := s.sink.AppendRow(ctx, sinkID, ResultRecord(*r)); err != nil && s.logger != nil {
			s.logger.Warn(ctx, "failed to append hard match row", "sink_id", sinkID, "principal", r.Key, "error", err)
		}
	}
	if s.events == nil {
		return
	}
	payload := map[string]interface{}{
		ports.PayloadPrincipal: r.Key,
		ports.PayloadStatus:    string(r.Status),
		ports.PayloadFailed:    r.Status != StatusAlreadySet && r.Status != StatusUpdated && r.Status != StatusWouldUpdate,
	}
	if r.Resolution.Verified {
		payload["remote_id"] = r.Resolution.Record.Ref()
		payload["rule"] = string(r.Resolution.Candidate.Rule)
	}
	if r.Err != nil {
		payload["error"] = r.Err.Error()
	}
	if err := s.events.Publish(ctx, ports.NewEvent(ports.EventHardMatchResolved, payload)); err != nil && s.logger != nil {
		s.logger.Warn(ctx, "failed to publish domain event", "event_type", ports.EventHardMatchResolved, "error", err)
	}
}

var targetIDUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_.@-]+`)

func targetID(key string) string {
	return "immutable-id." + targetIDUnsafe.ReplaceAllString(strings.ToLower(key), "_")
}

func errorKey(err error) string {
	var dErr *reconcile.DomainError
	if errors.As(err, &dErr) {
		if key, ok := dErr.Context["key"].(string); ok {
			return key
		}
	}
	return fmt.Sprintf("<%s>", reconcile.CodeOf(err))
}

// keyedMutex serialises work per remote record.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
