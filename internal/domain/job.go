package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobStatus is the externally visible state of an ingestion run.
type JobStatus string

const (
	JobQueued                JobStatus = "queued"
	JobExtracting            JobStatus = "extracting"
	JobChunking              JobStatus = "chunking"
	JobEmbeddingLinking      JobStatus = "embedding_linking"
	JobPersisting            JobStatus = "persisting"
	JobCompleted             JobStatus = "completed"
	JobCompletedWithWarnings JobStatus = "completed_with_warnings"
	JobFailed                JobStatus = "failed"
	JobCanceled              JobStatus = "canceled"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobCompletedWithWarnings, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}

// Active reports whether the run occupies a worker slot.
func (s JobStatus) Active() bool {
	switch s {
	case JobExtracting, JobChunking, JobEmbeddingLinking, JobPersisting:
		return true
	default:
		return false
	}
}

// StageProgress carries the per-stage counters surfaced by status reads.
// Stored as a single JSON column so a status update is one atomic row
// write.
type StageProgress struct {
	Chapters int `json:"chapters"`
	Sections int `json:"sections"`
	Concepts int `json:"concepts"`

	Embedded     int `json:"embedded"`
	EmbedFailed  int `json:"embed_failed"`
	EmbedRetries int `json:"embed_retries"`

	PrereqEdges       int  `json:"prereq_edges"`
	RelatedEdges      int  `json:"related_edges"`
	InferenceDegraded bool `json:"inference_degraded"`

	NodesWritten   int `json:"nodes_written"`
	VectorsWritten int `json:"vectors_written"`
	EdgesWritten   int `json:"edges_written"`
	PersistRetries int `json:"persist_retries"`

	Warnings []string `json:"warnings,omitempty"`
}

// IngestionRun is the durable job row. It is the single source of truth
// for job status; every transition is one row update.
type IngestionRun struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	BookTitle string     `gorm:"column:book_title;not null" json:"book_title"`
	SourceKey string     `gorm:"column:source_key;not null" json:"source_key"`
	BookID    *uuid.UUID `gorm:"type:uuid;index" json:"book_id,omitempty"`

	Status string `gorm:"column:status;not null;index" json:"status"`
	Stage  string `gorm:"column:stage;not null;index" json:"stage"`

	Progress datatypes.JSON `gorm:"type:jsonb;column:progress" json:"progress"`

	Attempts        int    `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error           string `gorm:"column:error" json:"error,omitempty"`
	CancelRequested bool   `gorm:"column:cancel_requested;not null;default:false" json:"cancel_requested"`

	LastErrorAt *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (IngestionRun) TableName() string { return "ingestion_run" }
