// Package reconcile keeps the host's local cache and the backend eventually
// consistent: incremental push/pull plus a full resync against the authoritative
// workout id set.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"example.com/circuit/internal/domain"
	"example.com/circuit/internal/events"
	"example.com/circuit/internal/outbox"
	"example.com/circuit/internal/templates"
)

var (
	// ErrSyncInProgress is returned when another sync already holds the reconciler.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrSuspiciousAuthoritativeSet flags an empty remote id set while local synced
	// sessions exist; local deletion is skipped.
	ErrSuspiciousAuthoritativeSet = errors.New("authoritative workout set is empty while local synced workouts exist")
)

// Remote queue entry types.
const (
	OpDeleteWorkout  = "deleteWorkout"
	OpUpsertTemplate = "upsertTemplate"
	OpDeleteTemplate = "deleteTemplate"
)

// Backend is the remote collaborator, already scoped to the signed-in user.
type Backend interface {
	ListWorkoutIDs(ctx context.Context) ([]string, error)
	UpsertWorkout(ctx context.Context, s domain.WorkoutSession) error
	DeleteWorkout(ctx context.Context, id string) error
	ListPersonalBests(ctx context.Context) ([]domain.PersonalRecord, error)
	UpsertPersonalBest(ctx context.Context, rec domain.PersonalRecord) error
	ListTemplates(ctx context.Context) ([]domain.WorkoutTemplate, error)
	UpsertTemplate(ctx context.Context, t domain.WorkoutTemplate) error
	DeleteTemplate(ctx context.Context, id string) error
}

// Local is the host cache the reconciler reads and writes.
type Local interface {
	UnsyncedWorkouts(ctx context.Context) ([]domain.WorkoutSession, error)
	MarkWorkoutSynced(ctx context.Context, id string) error
	SyncedWorkoutIDs(ctx context.Context) ([]string, error)
	DeleteWorkout(ctx context.Context, id string) (bool, error)
	UnsyncedRecords(ctx context.Context) ([]domain.PersonalRecord, error)
	MarkRecordSynced(ctx context.Context, key string, bestValue float64) error
	ListRecords(ctx context.Context) ([]domain.PersonalRecord, error)
	ReplaceRecords(ctx context.Context, recs []domain.PersonalRecord) error
	GetTemplate(ctx context.Context, id string) (domain.WorkoutTemplate, error)
	SaveTemplate(ctx context.Context, t domain.WorkoutTemplate) error
}

// RecordBook receives the backend's recomputed personal records.
type RecordBook interface {
	ApplyBackend(recs []domain.PersonalRecord)
}

// Report summarises one run.
type Report struct {
	WorkoutsPushed   int
	RecordsPushed    int
	RemoteOpsApplied int
	TemplatesPulled  int
	RecordsPulled    int
	RemovedLocally   []string
	DeletionsSkipped bool
}

// Option configures optional behaviour for the Reconciler.
type Option func(*Reconciler)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCallTimeout bounds every backend call.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRemoteDeleteHook is called for every local session removed because the
// backend no longer has it.
func WithRemoteDeleteHook(fn func(ctx context.Context, id string)) Option {
	return func(r *Reconciler) {
		r.onRemoteDelete = fn
	}
}

// WithTemplatePullHook is called after a pull with the backend templates that were
// missing from the cache (created) or differed from it (edited).
func WithTemplatePullHook(fn func(ctx context.Context, created, edited []domain.WorkoutTemplate)) Option {
	return func(r *Reconciler) {
		r.onTemplatesPulled = fn
	}
}

// WithRecordPullHook is called after a pull changed the cached personal records.
func WithRecordPullHook(fn func(ctx context.Context, recs []domain.PersonalRecord)) Option {
	return func(r *Reconciler) {
		r.onRecordsPulled = fn
	}
}

// Reconciler runs at most one sync at a time.
type Reconciler struct {
	backend           Backend
	local             Local
	queue             outbox.Queue
	book              RecordBook
	flusher           *outbox.Flusher
	timeout           time.Duration
	logger            *log.Logger
	onRemoteDelete    func(ctx context.Context, id string)
	onTemplatesPulled func(ctx context.Context, created, edited []domain.WorkoutTemplate)
	onRecordsPulled   func(ctx context.Context, recs []domain.PersonalRecord)

	running  sync.Mutex
	triggers sync.WaitGroup
}

// New constructs a Reconciler.
func New(backend Backend, local Local, queue outbox.Queue, book RecordBook, opts ...Option) *Reconciler {
	r := &Reconciler{
		backend: backend,
		local:   local,
		queue:   queue,
		book:    book,
		timeout: 30 * time.Second,
		logger:  log.New(log.Writer(), "[reconcile] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.flusher = outbox.NewFlusher(queue, outbox.DestinationRemote, r.applyRemoteOp, outbox.WithLogger(r.logger))
	return r
}

// QueueWorkoutDelete schedules a backend delete for id.
func (r *Reconciler) QueueWorkoutDelete(ctx context.Context, id string) error {
	_, err := r.queue.Enqueue(ctx, outbox.Entry{Destination: outbox.DestinationRemote, Type: OpDeleteWorkout, PayloadID: id})
	return err
}

// QueueTemplateUpsert schedules a backend upsert, superseding any pending write for
// the same template.
func (r *Reconciler) QueueTemplateUpsert(ctx context.Context, t domain.WorkoutTemplate) error {
	return EnqueueTemplateUpsert(ctx, r.queue, t)
}

// QueueTemplateDelete schedules a backend delete, dropping any pending upsert.
func (r *Reconciler) QueueTemplateDelete(ctx context.Context, id string) error {
	if _, err := r.queue.Purge(ctx, outbox.DestinationRemote, id, OpUpsertTemplate); err != nil {
		return err
	}
	_, err := r.queue.Enqueue(ctx, outbox.Entry{Destination: outbox.DestinationRemote, Type: OpDeleteTemplate, PayloadID: id})
	return err
}

// EnqueueTemplateUpsert writes a template upsert straight to queue. Tools that edit
// the cache offline use it so the next sync carries the change.
func EnqueueTemplateUpsert(ctx context.Context, queue outbox.Queue, t domain.WorkoutTemplate) error {
	payload, err := json.Marshal(templates.Flatten(t))
	if err != nil {
		return fmt.Errorf("encode template %s: %w", t.ID, err)
	}
	if _, err := queue.Purge(ctx, outbox.DestinationRemote, t.ID, OpUpsertTemplate, OpDeleteTemplate); err != nil {
		return err
	}
	_, err = queue.Enqueue(ctx, outbox.Entry{Destination: outbox.DestinationRemote, Type: OpUpsertTemplate, PayloadID: t.ID, Payload: payload})
	return err
}

// Trigger runs Sync in the background. A trigger while a sync is running is a no-op.
func (r *Reconciler) Trigger(ctx context.Context) {
	bg := context.WithoutCancel(ctx)
	r.triggers.Add(1)
	go func() {
		defer r.triggers.Done()
		if _, err := r.Sync(bg); err != nil && !errors.Is(err, ErrSyncInProgress) {
			r.logger.Printf("background sync: %v", err)
		}
	}()
}

// Wait blocks until every triggered sync has returned.
func (r *Reconciler) Wait() {
	r.triggers.Wait()
}

// Sync pushes unsynced sessions and records, applies queued remote operations and
// pulls templates and personal records. Failed items stay unsynced or queued.
func (r *Reconciler) Sync(ctx context.Context) (Report, error) {
	if !r.running.TryLock() {
		return Report{}, ErrSyncInProgress
	}
	defer r.running.Unlock()

	start := time.Now()
	report, err := r.incremental(ctx)
	recordRun("sync", err, time.Since(start))
	return report, err
}

// ForceFullSync fetches the authoritative workout ids, removes local synced sessions
// the backend no longer has, then runs an incremental sync. If the id fetch fails
// nothing is deleted.
func (r *Reconciler) ForceFullSync(ctx context.Context) (Report, error) {
	if !r.running.TryLock() {
		return Report{}, ErrSyncInProgress
	}
	defer r.running.Unlock()

	start := time.Now()
	report, err := r.full(ctx)
	recordRun("full", err, time.Since(start))
	return report, err
}

func (r *Reconciler) full(ctx context.Context) (Report, error) {
	var remoteIDs []string
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		remoteIDs, err = r.backend.ListWorkoutIDs(ctx)
		return err
	})
	if err != nil {
		return Report{}, fmt.Errorf("fetch authoritative workout ids: %w", err)
	}

	localIDs, err := r.local.SyncedWorkoutIDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list local synced workouts: %w", err)
	}

	var report Report
	var errs error
	if len(remoteIDs) == 0 && len(localIDs) > 0 {
		r.logger.Printf("backend returned no workouts while %d are synced locally; skipping deletion", len(localIDs))
		report.DeletionsSkipped = true
		errs = ErrSuspiciousAuthoritativeSet
	} else {
		remote := make(map[string]struct{}, len(remoteIDs))
		for _, id := range remoteIDs {
			remote[id] = struct{}{}
		}
		for _, id := range localIDs {
			if _, ok := remote[id]; ok {
				continue
			}
			if _, err := r.local.DeleteWorkout(ctx, id); err != nil {
				errs = errors.Join(errs, fmt.Errorf("delete local workout %s: %w", id, err))
				continue
			}
			report.RemovedLocally = append(report.RemovedLocally, id)
			recordRemovedLocally()
			if r.onRemoteDelete != nil {
				r.onRemoteDelete(ctx, id)
			}
		}
	}

	inc, err := r.incremental(ctx)
	inc.RemovedLocally = report.RemovedLocally
	inc.DeletionsSkipped = report.DeletionsSkipped
	return inc, errors.Join(errs, err)
}

func (r *Reconciler) incremental(ctx context.Context) (Report, error) {
	var report Report
	var errs error

	pushed, err := r.pushWorkouts(ctx)
	report.WorkoutsPushed = pushed
	errs = errors.Join(errs, err)

	applied, err := r.flusher.Flush(ctx)
	report.RemoteOpsApplied = applied
	if err != nil {
		errs = errors.Join(errs, fmt.Errorf("apply queued remote operations: %w", err))
	}

	recordsPushed, recordErr := r.pushRecords(ctx)
	report.RecordsPushed = recordsPushed
	errs = errors.Join(errs, recordErr)

	pulled, err := r.pullTemplates(ctx)
	report.TemplatesPulled = pulled
	errs = errors.Join(errs, err)

	// Replacing local records while some are still unpushed would lose them.
	if recordErr == nil {
		n, err := r.pullRecords(ctx)
		report.RecordsPulled = n
		errs = errors.Join(errs, err)
	}
	return report, errs
}

func (r *Reconciler) pushWorkouts(ctx context.Context) (int, error) {
	unsynced, err := r.local.UnsyncedWorkouts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unsynced workouts: %w", err)
	}

	var errs error
	pushed := 0
	for _, s := range unsynced {
		if err := r.call(ctx, func(ctx context.Context) error { return r.backend.UpsertWorkout(ctx, s) }); err != nil {
			errs = errors.Join(errs, fmt.Errorf("push workout %s: %w", s.ID, err))
			continue
		}
		if err := r.local.MarkWorkoutSynced(ctx, s.ID); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		pushed++
	}
	return pushed, errs
}

func (r *Reconciler) pushRecords(ctx context.Context) (int, error) {
	unsynced, err := r.local.UnsyncedRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unsynced records: %w", err)
	}

	var errs error
	pushed := 0
	for _, rec := range unsynced {
		if err := r.call(ctx, func(ctx context.Context) error { return r.backend.UpsertPersonalBest(ctx, rec) }); err != nil {
			errs = errors.Join(errs, fmt.Errorf("push record %s: %w", rec.Key, err))
			continue
		}
		if err := r.local.MarkRecordSynced(ctx, rec.Key, rec.BestValue); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		pushed++
	}
	return pushed, errs
}

func (r *Reconciler) pullTemplates(ctx context.Context) (int, error) {
	var remote []domain.WorkoutTemplate
	if err := r.call(ctx, func(ctx context.Context) error {
		var err error
		remote, err = r.backend.ListTemplates(ctx)
		return err
	}); err != nil {
		return 0, fmt.Errorf("pull templates: %w", err)
	}

	var (
		errs            error
		created, edited []domain.WorkoutTemplate
	)
	for _, t := range remote {
		cached, err := r.local.GetTemplate(ctx, t.ID)
		isNew := errors.Is(err, domain.ErrNotFound)
		if err != nil && !isNew {
			errs = errors.Join(errs, err)
			continue
		}
		if !isNew && templates.Same(cached, t) {
			continue
		}
		if err := r.local.SaveTemplate(ctx, t); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if isNew {
			created = append(created, t)
		} else {
			edited = append(edited, t)
		}
	}
	if r.onTemplatesPulled != nil && len(created)+len(edited) > 0 {
		r.onTemplatesPulled(ctx, created, edited)
	}
	return len(remote), errs
}

func (r *Reconciler) pullRecords(ctx context.Context) (int, error) {
	var remote []domain.PersonalRecord
	if err := r.call(ctx, func(ctx context.Context) error {
		var err error
		remote, err = r.backend.ListPersonalBests(ctx)
		return err
	}); err != nil {
		return 0, fmt.Errorf("pull personal records: %w", err)
	}

	cached, err := r.local.ListRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("list cached personal records: %w", err)
	}
	for i := range remote {
		remote[i].Synced = true
	}
	if err := r.local.ReplaceRecords(ctx, remote); err != nil {
		return 0, err
	}
	if r.book != nil {
		r.book.ApplyBackend(remote)
	}
	if r.onRecordsPulled != nil && !sameBests(cached, remote) {
		r.onRecordsPulled(ctx, remote)
	}
	return len(remote), nil
}

func sameBests(a, b []domain.PersonalRecord) bool {
	if len(a) != len(b) {
		return false
	}
	values := make(map[string]float64, len(a))
	for _, rec := range a {
		values[rec.Key] = rec.BestValue
	}
	for _, rec := range b {
		if v, ok := values[rec.Key]; !ok || v != rec.BestValue {
			return false
		}
	}
	return true
}

func (r *Reconciler) applyRemoteOp(ctx context.Context, e outbox.Entry) error {
	switch e.Type {
	case OpDeleteWorkout:
		return r.call(ctx, func(ctx context.Context) error { return r.backend.DeleteWorkout(ctx, e.PayloadID) })
	case OpDeleteTemplate:
		return r.call(ctx, func(ctx context.Context) error { return r.backend.DeleteTemplate(ctx, e.PayloadID) })
	case OpUpsertTemplate:
		var payload events.Template
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			// Undecodable entries would block the queue forever.
			r.logger.Printf("dropping queued template %s: %v", e.PayloadID, err)
			return nil
		}
		return r.call(ctx, func(ctx context.Context) error {
			return r.backend.UpsertTemplate(ctx, templates.Unflatten(payload))
		})
	default:
		r.logger.Printf("dropping unknown remote operation %q for %s", e.Type, e.PayloadID)
		return nil
	}
}

func (r *Reconciler) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return fn(callCtx)
}
