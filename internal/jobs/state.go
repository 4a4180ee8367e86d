package jobs

import "github.com/spoolhq/content-service/internal/domain"

// transitions is the legal edge set of the run state machine. Reclaiming
// a stale active run re-enters extracting; a failed run with attempts
// left does the same.
var transitions = map[domain.JobStatus][]domain.JobStatus{
	domain.JobQueued: {
		domain.JobExtracting,
		domain.JobCanceled,
	},
	domain.JobExtracting: {
		domain.JobChunking,
		domain.JobExtracting,
		domain.JobFailed,
		domain.JobCanceled,
	},
	domain.JobChunking: {
		domain.JobEmbeddingLinking,
		domain.JobExtracting,
		domain.JobFailed,
		domain.JobCanceled,
	},
	domain.JobEmbeddingLinking: {
		domain.JobPersisting,
		domain.JobExtracting,
		domain.JobFailed,
		domain.JobCanceled,
	},
	domain.JobPersisting: {
		domain.JobCompleted,
		domain.JobCompletedWithWarnings,
		domain.JobExtracting,
		domain.JobFailed,
		domain.JobCanceled,
	},
	domain.JobFailed: {
		domain.JobExtracting,
	},
}

// CanTransition reports whether a status change is legal. Terminal
// states other than failed have no outgoing edges; failed only re-enters
// the pipeline through a retry claim.
func CanTransition(from, to domain.JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StageName maps an active status to the stage label stored on the run.
func StageName(s domain.JobStatus) string {
	switch s {
	case domain.JobExtracting:
		return "extract"
	case domain.JobChunking:
		return "chunk"
	case domain.JobEmbeddingLinking:
		return "embed_link"
	case domain.JobPersisting:
		return "persist"
	case domain.JobCompleted, domain.JobCompletedWithWarnings:
		return "done"
	default:
		return string(s)
	}
}
