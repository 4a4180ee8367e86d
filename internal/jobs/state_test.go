package jobs

import (
	"testing"

	"github.com/spoolhq/content-service/internal/domain"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from domain.JobStatus
		to   domain.JobStatus
		want bool
	}{
		{"queued_to_extracting", domain.JobQueued, domain.JobExtracting, true},
		{"queued_to_canceled", domain.JobQueued, domain.JobCanceled, true},
		{"queued_skips_stage", domain.JobQueued, domain.JobChunking, false},
		{"pipeline_forward", domain.JobExtracting, domain.JobChunking, true},
		{"pipeline_backward", domain.JobChunking, domain.JobExtracting, true},
		{"chunking_forward", domain.JobChunking, domain.JobEmbeddingLinking, true},
		{"embedding_forward", domain.JobEmbeddingLinking, domain.JobPersisting, true},
		{"embedding_skips_to_done", domain.JobEmbeddingLinking, domain.JobCompleted, false},
		{"persisting_completes", domain.JobPersisting, domain.JobCompleted, true},
		{"persisting_completes_with_warnings", domain.JobPersisting, domain.JobCompletedWithWarnings, true},
		{"active_fails", domain.JobExtracting, domain.JobFailed, true},
		{"active_cancels", domain.JobPersisting, domain.JobCanceled, true},
		{"stale_reclaim", domain.JobPersisting, domain.JobExtracting, true},
		{"failed_retries", domain.JobFailed, domain.JobExtracting, true},
		{"failed_stays_failed", domain.JobFailed, domain.JobFailed, false},
		{"completed_terminal", domain.JobCompleted, domain.JobExtracting, false},
		{"completed_with_warnings_terminal", domain.JobCompletedWithWarnings, domain.JobExtracting, false},
		{"canceled_terminal", domain.JobCanceled, domain.JobExtracting, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Fatalf("%s -> %s: want=%v got=%v", tc.from, tc.to, tc.want, got)
			}
		})
	}
}

func TestStageName(t *testing.T) {
	cases := []struct {
		status domain.JobStatus
		want   string
	}{
		{domain.JobExtracting, "extract"},
		{domain.JobChunking, "chunk"},
		{domain.JobEmbeddingLinking, "embed_link"},
		{domain.JobPersisting, "persist"},
		{domain.JobCompleted, "done"},
		{domain.JobCompletedWithWarnings, "done"},
		{domain.JobQueued, string(domain.JobQueued)},
	}
	for _, tc := range cases {
		if got := StageName(tc.status); got != tc.want {
			t.Fatalf("stage for %s: want=%q got=%q", tc.status, tc.want, got)
		}
	}
}
