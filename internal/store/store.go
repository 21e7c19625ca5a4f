package store

import (
	"context"
	"errors"

	"github.com/seantiz/smtbridge/internal/model"
)

// ErrInvalidTransition is returned when a job status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// Store defines the persistence operations for jobs.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	UpdateJobStatus(ctx context.Context, id, status string) error
	UpdateJob(ctx context.Context, j *model.Job) error
	GetJobStats(ctx context.Context) (*model.JobStats, error)
	InsertOutputLine(ctx context.Context, jobID string, seq int, line string) error
	GetOutputLines(ctx context.Context, jobID string) ([]model.OutputLine, error)
	Close() error
}
