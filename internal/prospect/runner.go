// Package prospect contains the job runner: the sequential county-by-county
// loop that drives AI research for a job, persists progress, and supports
// cooperative pause/resume.
package prospect

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospector/internal/geo"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/research"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/internal/store"
)

// Runner owns the per-job worker goroutines. County processing within one
// job is strictly sequential; multiple jobs run as independent streams.
type Runner struct {
	store    store.Store
	querier  research.Querier
	settings model.JobSettings

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]struct{}
}

// NewRunner creates a Runner. settings is the configuration snapshot applied
// to new jobs; each job keeps the settings it was created with.
func NewRunner(st store.Store, q research.Querier, settings model.JobSettings) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:    st,
		querier:  q,
		settings: settings,
		ctx:      ctx,
		cancel:   cancel,
		workers:  make(map[string]struct{}),
	}
}

// StartJob validates the request, creates the job, and begins processing
// asynchronously. The returned job is already in running status so the
// dashboard can poll immediately.
func (r *Runner) StartJob(ctx context.Context, description, stateCode string) (*model.Job, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, validationErrorf("description must not be empty")
	}

	state, err := r.store.GetStateByCode(ctx, stateCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, validationErrorf("unknown state %q", stateCode)
		}
		return nil, err
	}

	counties, err := r.store.ListCounties(ctx, state.ID)
	if err != nil {
		return nil, err
	}
	if len(counties) == 0 {
		return nil, validationErrorf("state %s has no counties loaded", state.Abbreviation)
	}

	job, err := r.store.CreateJob(ctx, description, state.ID, len(counties), r.settings)
	if err != nil {
		return nil, err
	}
	if err := r.store.TransitionJob(ctx, job.ID, []model.JobStatus{model.JobStatusPending}, model.JobStatusRunning); err != nil {
		return nil, err
	}
	job.Status = model.JobStatusRunning

	r.launch(job.ID)

	zap.L().Info("job started",
		zap.String("job_id", job.ID),
		zap.String("state", state.Abbreviation),
		zap.Int("counties", len(counties)),
	)
	return job, nil
}

// GetStatus returns the latest persisted job record, including partial
// progress for a caller polling mid-run.
func (r *Runner) GetStatus(ctx context.Context, jobID string) (*model.Job, error) {
	return r.store.GetJob(ctx, jobID)
}

// PauseJob requests a cooperative pause. The in-flight county, if any, is
// allowed to finish; the worker exits before starting the next one.
func (r *Runner) PauseJob(ctx context.Context, jobID string) error {
	return r.store.TransitionJob(ctx, jobID,
		[]model.JobStatus{model.JobStatusRunning}, model.JobStatusPaused)
}

// ResumeJob transitions a paused job back to running and restarts its worker
// from the first unprocessed county. Counties already processed keep their
// persisted results and are not re-queried. Concurrent resume requests race
// on the guarded transition; the losers get ErrInvalidTransition.
func (r *Runner) ResumeJob(ctx context.Context, jobID string) error {
	if err := r.store.TransitionJob(ctx, jobID,
		[]model.JobStatus{model.JobStatusPaused}, model.JobStatusRunning); err != nil {
		return err
	}
	r.launch(jobID)
	return nil
}

// RecoverStale handles jobs left in running status by a previous process
// crash: with autoResume they are picked up where they left off, otherwise
// they are parked in paused for manual resume. Completed counties are never
// re-run either way.
func (r *Runner) RecoverStale(ctx context.Context, autoResume bool) error {
	jobs, err := r.store.ListJobs(ctx, store.JobFilter{Status: model.JobStatusRunning})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		if r.isActive(job.ID) {
			continue
		}
		g.Go(func() error {
			if autoResume {
				zap.L().Info("resuming interrupted job",
					zap.String("job_id", job.ID),
					zap.Int("counties_processed", job.CountiesProcessed),
				)
				r.launch(job.ID)
				return nil
			}
			zap.L().Warn("parking interrupted job for manual resume",
				zap.String("job_id", job.ID))
			return r.store.TransitionJob(gctx, job.ID,
				[]model.JobStatus{model.JobStatusRunning}, model.JobStatusPaused)
		})
	}
	return g.Wait()
}

// Close stops all workers and waits for them to exit.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}

// Wait blocks until all currently-running workers have exited. Used by the
// CLI to run a job in the foreground.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) isActive(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.workers[jobID]
	return ok
}

// launch starts the worker goroutine for a job unless one is already live.
func (r *Runner) launch(jobID string) {
	r.mu.Lock()
	if _, ok := r.workers[jobID]; ok {
		r.mu.Unlock()
		return
	}
	r.workers[jobID] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.workers, jobID)
			r.mu.Unlock()
		}()
		r.run(r.ctx, jobID)
	}()
}

// run is the sequential county loop for one job. It is the only suspension
// point in the system: it blocks on the AI round trip and on the inter-call
// throttle, and checks the persisted status before each county so pause
// takes effect between counties.
func (r *Runner) run(ctx context.Context, jobID string) {
	log := zap.L().With(zap.String("job_id", jobID))

	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		log.Error("worker: load job", zap.Error(err))
		return
	}

	state, counties, err := r.loadCounties(ctx, job)
	if err != nil {
		r.failJob(ctx, jobID, eris.Wrap(err, "load counties"))
		return
	}

	delay := time.Duration(job.Settings.DelaySecs) * time.Second
	timeout := time.Duration(job.Settings.QueryTimeoutSecs) * time.Second
	limiter := rate.NewLimiter(rate.Every(delay), 1)

	// A resumed job's prior counties count as progress: fatal-looking
	// errors after any progress are demoted to per-county failures so
	// partial results are never discarded.
	hadSuccess := job.CountiesProcessed > 0

	for i := job.CountiesProcessed; i < len(counties); i++ {
		cur, err := r.store.GetJob(ctx, jobID)
		if err != nil {
			log.Error("worker: reload job", zap.Error(err))
			return
		}
		if cur.Status != model.JobStatusRunning {
			log.Info("worker: stopping", zap.String("status", string(cur.Status)))
			return
		}

		if err := limiter.Wait(ctx); err != nil {
			log.Info("worker: interrupted during throttle wait")
			return
		}

		county := counties[i]
		if err := r.store.SetCurrentCounty(ctx, jobID, county.Name); err != nil {
			log.Warn("worker: set current county", zap.Error(err))
		}
		log.Info("processing county",
			zap.String("county", county.Name),
			zap.Int("position", i+1),
			zap.Int("total", len(counties)),
		)

		qctx, cancel := context.WithTimeout(ctx, timeout)
		candidates, raw, qerr := r.querier.Query(qctx, job.Description, county.Name, state.Name)
		cancel()

		var results []model.Result
		switch {
		case qerr == nil:
			hadSuccess = true
			if limit := job.Settings.MaxResultsPerCounty; limit > 0 && len(candidates) > limit {
				candidates = candidates[:limit]
			}
			results = buildResults(jobID, county.ID, candidates, raw)
		case resilience.IsFatal(qerr) && !hadSuccess:
			r.failJob(ctx, jobID, eris.Wrapf(qerr, "fatal error researching %s with no prior progress", county.Name))
			return
		default:
			// A single county's failure never stops the run: record the
			// attempt with zero results and move on.
			log.Warn("county query failed",
				zap.String("county", county.Name),
				zap.Bool("transient", resilience.IsTransient(qerr)),
				zap.Error(qerr),
			)
		}

		step := store.CountyStep{
			JobID:      jobID,
			CountyID:   county.ID,
			CountyName: county.Name,
			Results:    results,
		}
		retryCfg := resilience.PersistenceRetryConfig()
		retryCfg.OnRetry = resilience.RetryLogger("store", "record_county_step")
		if err := resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
			return r.store.RecordCountyStep(ctx, step)
		}); err != nil {
			r.failJob(ctx, jobID, eris.Wrapf(err, "persist county %s", county.Name))
			return
		}
	}

	if err := r.store.TransitionJob(ctx, jobID,
		[]model.JobStatus{model.JobStatusRunning}, model.JobStatusCompleted); err != nil {
		log.Error("worker: complete job", zap.Error(err))
		return
	}
	log.Info("job completed", zap.Int("counties", len(counties)))
}

// loadCounties resolves the job's state and its counties in the stable
// processing order.
func (r *Runner) loadCounties(ctx context.Context, job *model.Job) (*model.State, []model.County, error) {
	states, err := r.store.ListStates(ctx)
	if err != nil {
		return nil, nil, err
	}
	var state *model.State
	for i := range states {
		if states[i].ID == job.StateID {
			state = &states[i]
			break
		}
	}
	if state == nil {
		return nil, nil, eris.Wrapf(store.ErrNotFound, "state %s", job.StateID)
	}

	counties, err := r.store.ListCounties(ctx, state.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(counties) == 0 {
		return nil, nil, eris.Errorf("state %s has no counties", state.Abbreviation)
	}
	geo.SortCounties(counties)
	return state, counties, nil
}

func (r *Runner) failJob(ctx context.Context, jobID string, cause error) {
	zap.L().Error("job failed", zap.String("job_id", jobID), zap.Error(cause))
	if err := r.store.MarkJobFailed(ctx, jobID, cause.Error()); err != nil {
		zap.L().Error("worker: mark job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func buildResults(jobID, countyID string, candidates []model.Candidate, raw string) []model.Result {
	results := make([]model.Result, len(candidates))
	for i, c := range candidates {
		results[i] = model.Result{
			JobID:             jobID,
			CountyID:          countyID,
			OrganizationName:  c.Name,
			Description:       c.Description,
			KeyPersonnelName:  c.KeyPersonnelName,
			KeyPersonnelTitle: c.KeyPersonnelTitle,
			KeyPersonnelPhone: c.KeyPersonnelPhone,
			KeyPersonnelEmail: c.KeyPersonnelEmail,
			ContactInfo:       c.ContactInfo,
			Address:           c.Address,
			Notes:             c.Notes,
			SourceURLs:        c.SourceURLs,
			ConfidenceScore:   model.ClampConfidence(c.Confidence),
			RawResponse:       raw,
		}
	}
	return results
}
