package store

import (
	"context"
	"errors"

	"github.com/reena96/bmax-adgenie-563362/internal/model"
)

// ErrJobNotFound is returned when the keyed store has no record for an id.
var ErrJobNotFound = errors.New("job not found")

// ErrVersionConflict is returned by Save when the stored record changed
// since the caller's Get. The caller must re-read and reapply.
var ErrVersionConflict = errors.New("job version conflict")

// JobStore is the keyed read/write interface over GenerationJob records.
// Save is a compare-and-set on job.Version: it writes only when the
// stored version still matches, then bumps the version on the passed
// record. Two writers exist (the worker and the cancel endpoint), so a
// stale get-then-save must fail instead of overwriting.
type JobStore interface {
	Save(ctx context.Context, job *model.GenerationJob) error
	Get(ctx context.Context, jobID string) (*model.GenerationJob, error)
	Delete(ctx context.Context, jobID string) error
}
