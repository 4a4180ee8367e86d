package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/ingest/chunk"
	"github.com/spoolhq/content-service/internal/ingest/embed"
	"github.com/spoolhq/content-service/internal/ingest/extract"
	"github.com/spoolhq/content-service/internal/ingest/relate"
	"github.com/spoolhq/content-service/internal/persist"
	"github.com/spoolhq/content-service/internal/platform/httpx"
	"github.com/spoolhq/content-service/internal/platform/logger"
	"github.com/spoolhq/content-service/internal/repos"
)

// ObjectStore fetches the raw uploaded document.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Extractor turns raw bytes into the structural text tree.
type Extractor interface {
	Extract(ctx context.Context, data []byte, title string) (*extract.Tree, error)
}

// Embedder fills concept embeddings in place.
type Embedder interface {
	EmbedConcepts(ctx context.Context, concepts []*domain.Concept) (*embed.Result, error)
}

// Inferencer derives concept relationship edges.
type Inferencer interface {
	Infer(concepts []*domain.Concept) *relate.Result
}

// Persister runs the dual-store write protocol.
type Persister interface {
	PersistBook(ctx context.Context, book *domain.Book, edges []domain.Edge) (persist.Stats, error)
}

type Config struct {
	Workers           int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	MaxAttempts       int
	RetryDelay        time.Duration
	StaleRunning      time.Duration
	StageTimeout      time.Duration
	Chunk             chunk.Config
}

// Orchestrator owns the worker pool that drains the run table. Each
// worker claims one run at a time and drives it through the pipeline
// stages, checkpointing the durable row at every boundary. The row is
// the only state that survives a crash; a reclaimed run restarts from
// extraction and idempotent persistence makes the replay converge.
type Orchestrator struct {
	repo       repos.IngestionRunRepo
	objects    ObjectStore
	extractor  Extractor
	embedder   Embedder
	inferencer Inferencer
	persister  Persister
	cfg        Config
	log        *logger.Logger
}

func NewOrchestrator(
	repo repos.IngestionRunRepo,
	objects ObjectStore,
	extractor Extractor,
	embedder Embedder,
	inferencer Inferencer,
	persister Persister,
	cfg Config,
	log *logger.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	// Zero would mark every active row stale on the next poll.
	if cfg.StaleRunning <= 0 {
		cfg.StaleRunning = 2 * time.Minute
	}
	return &Orchestrator{
		repo:       repo,
		objects:    objects,
		extractor:  extractor,
		embedder:   embedder,
		inferencer: inferencer,
		persister:  persister,
		cfg:        cfg,
		log:        log.With("component", "Orchestrator"),
	}
}

// Run blocks until ctx is done, polling for claimable runs with
// cfg.Workers concurrent workers.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			o.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (o *Orchestrator) workerLoop(ctx context.Context, worker int) {
	log := o.log.With("worker", worker)
	for {
		if ctx.Err() != nil {
			return
		}
		run, err := o.repo.ClaimNextRunnable(ctx, nil, o.cfg.MaxAttempts, o.cfg.RetryDelay, o.cfg.StaleRunning)
		if err != nil {
			log.Error("claim failed", "error", err)
			if httpx.SleepCtx(ctx, httpx.JitterSleep(o.cfg.PollInterval)) != nil {
				return
			}
			continue
		}
		if run == nil {
			if httpx.SleepCtx(ctx, httpx.JitterSleep(o.cfg.PollInterval)) != nil {
				return
			}
			continue
		}
		o.process(ctx, run)
	}
}

// process drives one claimed run through the pipeline. The claim already
// moved it to extracting.
func (o *Orchestrator) process(ctx context.Context, run *domain.IngestionRun) {
	log := o.log.With("run_id", run.ID, "attempt", run.Attempts)
	log.Info("processing run", "title", run.BookTitle, "source_key", run.SourceKey)

	stopHeartbeat := o.startHeartbeat(ctx, run)
	defer stopHeartbeat()

	progress := &domain.StageProgress{}

	// A reclaimed run may carry a cancel request from its previous
	// worker; finalize it before doing any work.
	if o.canceled(ctx, run, log) {
		return
	}

	// Stage: extract.
	data, err := o.objects.GetObject(ctx, run.SourceKey)
	if err != nil {
		o.fail(ctx, run, progress, fmt.Errorf("fetch source object: %w", err))
		return
	}
	tree, err := runStage(ctx, o.cfg.StageTimeout, func(sctx context.Context) (*extract.Tree, error) {
		return o.extractor.Extract(sctx, data, run.BookTitle)
	})
	if err != nil {
		o.fail(ctx, run, progress, err)
		return
	}
	if o.canceled(ctx, run, log) {
		return
	}

	// Stage: chunk.
	o.advance(ctx, run, domain.JobChunking, progress)
	book, err := chunk.BuildBook(tree, run.SourceKey, o.cfg.Chunk)
	if err != nil {
		o.fail(ctx, run, progress, err)
		return
	}
	progress.Chapters = len(book.Chapters)
	for _, ch := range book.Chapters {
		progress.Sections += len(ch.Sections)
	}
	concepts := book.Concepts()
	progress.Concepts = len(concepts)
	if len(concepts) == 0 {
		progress.Warnings = append(progress.Warnings, "document produced no concepts")
	}
	if o.canceled(ctx, run, log) {
		return
	}

	// Stage: embed and link.
	o.advance(ctx, run, domain.JobEmbeddingLinking, progress)
	res, err := runStage(ctx, o.cfg.StageTimeout, func(sctx context.Context) (*embed.Result, error) {
		return o.embedder.EmbedConcepts(sctx, concepts)
	})
	if err != nil {
		o.fail(ctx, run, progress, err)
		return
	}
	progress.Embedded = res.Embedded
	progress.EmbedFailed = len(res.FailedIDs)
	progress.EmbedRetries = res.Retries
	if len(res.FailedIDs) > 0 {
		progress.Warnings = append(progress.Warnings,
			fmt.Sprintf("%d concepts could not be embedded and are excluded from semantic search", len(res.FailedIDs)))
	}
	if res.Embedded == 0 && len(concepts) > 0 {
		progress.Warnings = append(progress.Warnings, "no concepts embedded; semantic search unavailable for this book")
	}

	inferred := o.inferencer.Infer(concepts)
	progress.PrereqEdges = inferred.PrereqCount
	progress.RelatedEdges = inferred.RelatedCount
	progress.InferenceDegraded = inferred.Degraded
	if inferred.Degraded {
		progress.Warnings = append(progress.Warnings, "relationship inference degraded; graph has fewer edges than usual")
	}
	if o.canceled(ctx, run, log) {
		return
	}

	// Stage: persist.
	o.advance(ctx, run, domain.JobPersisting, progress)
	stats, err := o.persister.PersistBook(ctx, book, inferred.Edges)
	progress.NodesWritten = stats.NodesWritten
	progress.VectorsWritten = stats.VectorsWritten
	progress.EdgesWritten = stats.EdgesWritten
	progress.PersistRetries = stats.Retries
	if err != nil {
		o.fail(ctx, run, progress, err)
		return
	}

	final := domain.JobCompleted
	if len(progress.Warnings) > 0 {
		final = domain.JobCompletedWithWarnings
	}
	bookID := book.ID
	o.update(ctx, run, map[string]interface{}{
		"status":   string(final),
		"stage":    StageName(final),
		"book_id":  &bookID,
		"progress": marshalProgress(progress),
		"error":    "",
	})
	log.Info("run finished", "status", final, "book_id", bookID,
		"concepts", progress.Concepts, "embedded", progress.Embedded,
		"edges", progress.EdgesWritten, "warnings", len(progress.Warnings))
}

// runStage applies the per-stage timeout around one pipeline call.
func runStage[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(sctx)
}

// advance moves the run to the next active status and checkpoints
// progress.
func (o *Orchestrator) advance(ctx context.Context, run *domain.IngestionRun, to domain.JobStatus, progress *domain.StageProgress) {
	from := domain.JobStatus(run.Status)
	if !CanTransition(from, to) {
		o.log.Warn("illegal status transition skipped", "run_id", run.ID, "from", from, "to", to)
		return
	}
	run.Status = string(to)
	run.Stage = StageName(to)
	o.update(ctx, run, map[string]interface{}{
		"status":   string(to),
		"stage":    StageName(to),
		"progress": marshalProgress(progress),
	})
}

// fail records the error on the row. Fatal errors exhaust the attempt
// budget so the claim query never picks the run up again; transient
// errors leave it eligible for retry after the delay.
func (o *Orchestrator) fail(ctx context.Context, run *domain.IngestionRun, progress *domain.StageProgress, err error) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":        string(domain.JobFailed),
		"error":         err.Error(),
		"last_error_at": now,
		"progress":      marshalProgress(progress),
	}
	if domain.IsFatalJobError(err) {
		updates["attempts"] = o.cfg.MaxAttempts
		o.log.Error("run failed permanently", "run_id", run.ID, "error", err)
	} else {
		o.log.Warn("run failed, eligible for retry", "run_id", run.ID,
			"attempt", run.Attempts, "max_attempts", o.cfg.MaxAttempts, "error", err)
	}
	o.update(ctx, run, updates)
}

// canceled observes the cancel flag at a stage boundary and finalizes
// the run when set.
func (o *Orchestrator) canceled(ctx context.Context, run *domain.IngestionRun, log *logger.Logger) bool {
	requested, err := o.repo.CancelRequested(ctx, nil, run.ID)
	if err != nil {
		log.Warn("cancel check failed", "error", err)
		return false
	}
	if !requested {
		return false
	}
	o.update(ctx, run, map[string]interface{}{
		"status": string(domain.JobCanceled),
		"stage":  StageName(domain.JobCanceled),
	})
	log.Info("run canceled")
	return true
}

func (o *Orchestrator) update(ctx context.Context, run *domain.IngestionRun, updates map[string]interface{}) {
	// Status writes must land even when the worker context is going away.
	wctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := o.repo.UpdateFields(wctx, nil, run.ID, updates); err != nil {
		o.log.Error("run update failed", "run_id", run.ID, "error", err)
	}
}

func (o *Orchestrator) startHeartbeat(ctx context.Context, run *domain.IngestionRun) func() {
	hctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(o.cfg.HeartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-t.C:
				if err := o.repo.Heartbeat(hctx, nil, run.ID); err != nil {
					o.log.Warn("heartbeat failed", "run_id", run.ID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func marshalProgress(p *domain.StageProgress) datatypes.JSON {
	raw, err := json.Marshal(p)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(raw)
}
