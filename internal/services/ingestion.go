package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/platform/gcp"
	"github.com/spoolhq/content-service/internal/platform/logger"
	"github.com/spoolhq/content-service/internal/repos"
)

// IngestionService accepts uploads and exposes the durable run row. The
// actual processing happens in the orchestrator's workers; submission
// only stores the document and queues the run.
type IngestionService struct {
	runs       repos.IngestionRunRepo
	bucket     gcp.BucketService
	maxPDFSize int64
	log        *logger.Logger
}

func NewIngestionService(runs repos.IngestionRunRepo, bucket gcp.BucketService, maxPDFSize int64, log *logger.Logger) *IngestionService {
	return &IngestionService{
		runs:       runs,
		bucket:     bucket,
		maxPDFSize: maxPDFSize,
		log:        log.With("service", "IngestionService"),
	}
}

// RunView is the status payload returned to callers: the run row with
// the progress column decoded.
type RunView struct {
	ID       uuid.UUID             `json:"id"`
	Title    string                `json:"title"`
	BookID   *uuid.UUID            `json:"book_id,omitempty"`
	Status   domain.JobStatus      `json:"status"`
	Stage    string                `json:"stage"`
	Attempts int                   `json:"attempts"`
	Error    string                `json:"error,omitempty"`
	Progress *domain.StageProgress `json:"progress,omitempty"`
	Created  string                `json:"created_at"`
	Updated  string                `json:"updated_at"`
}

// Submit validates the upload, stores it, and queues a run. The returned
// run is already durable; a crash after Submit loses nothing.
func (s *IngestionService) Submit(ctx context.Context, title, filename string, size int64, r io.Reader) (*domain.IngestionRun, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	}
	if title == "" {
		return nil, fmt.Errorf("ingestion: title required")
	}
	if !strings.EqualFold(path.Ext(filename), ".pdf") {
		return nil, fmt.Errorf("ingestion: only PDF uploads are accepted")
	}
	if s.maxPDFSize > 0 && size > s.maxPDFSize {
		return nil, fmt.Errorf("ingestion: file exceeds the %d byte limit", s.maxPDFSize)
	}

	runID := uuid.New()
	key := fmt.Sprintf("books/%s/%s", runID, path.Base(filename))

	body := r
	if s.maxPDFSize > 0 {
		body = io.LimitReader(r, s.maxPDFSize+1)
	}
	if err := s.bucket.UploadObject(ctx, key, "application/pdf", body); err != nil {
		return nil, fmt.Errorf("ingestion: store upload: %w", err)
	}

	run, err := s.runs.Create(ctx, nil, &domain.IngestionRun{
		ID:        runID,
		BookTitle: title,
		SourceKey: key,
		Status:    string(domain.JobQueued),
		Stage:     "queued",
	})
	if err != nil {
		// Best-effort cleanup so a failed row insert does not strand the
		// object.
		if derr := s.bucket.DeleteObject(ctx, key); derr != nil {
			s.log.Warn("orphaned upload cleanup failed", "key", key, "error", derr)
		}
		return nil, fmt.Errorf("ingestion: create run: %w", err)
	}

	s.log.Info("run queued", "run_id", run.ID, "title", title, "key", key)
	return run, nil
}

// Status returns the decoded run view, or nil when the run is unknown.
func (s *IngestionService) Status(ctx context.Context, id uuid.UUID) (*RunView, error) {
	run, err := s.runs.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}
	return toRunView(run), nil
}

// List returns recent runs, newest first.
func (s *IngestionService) List(ctx context.Context, limit int) ([]*RunView, error) {
	runs, err := s.runs.List(ctx, nil, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*RunView, len(runs))
	for i, run := range runs {
		out[i] = toRunView(run)
	}
	return out, nil
}

// Cancel requests cancellation. The second return distinguishes "not
// found or already terminal" from an accepted request.
func (s *IngestionService) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	accepted, err := s.runs.RequestCancel(ctx, nil, id)
	if err != nil {
		return false, err
	}
	if accepted {
		s.log.Info("cancel requested", "run_id", id)
	}
	return accepted, nil
}

func toRunView(run *domain.IngestionRun) *RunView {
	view := &RunView{
		ID:       run.ID,
		Title:    run.BookTitle,
		BookID:   run.BookID,
		Status:   domain.JobStatus(run.Status),
		Stage:    run.Stage,
		Attempts: run.Attempts,
		Error:    run.Error,
		Created:  run.CreatedAt.UTC().Format(time.RFC3339),
		Updated:  run.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if len(run.Progress) > 0 {
		var p domain.StageProgress
		if err := json.Unmarshal(run.Progress, &p); err == nil {
			view.Progress = &p
		}
	}
	return view
}
