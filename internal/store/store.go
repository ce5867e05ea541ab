package store

import (
	"context"
	"errors"

	"roadassist/internal/model"
)

// Store is the locally persisted client state: who this party is, which
// request they are tracking, and their closed-job archive. The active
// pointer doubles as the mutual-exclusion signal between concurrent
// trackers for the same identity.
type Store interface {
	Session(ctx context.Context) (model.Session, error)
	SaveSession(ctx context.Context, s model.Session) error
	ClearSession(ctx context.Context) error

	ActiveRequestID(ctx context.Context) (string, error)
	SetActiveRequest(ctx context.Context, requestID string) error
	// ClearActiveRequest clears the pointer only when it still equals
	// requestID, so a tracker that lost ownership cannot clobber the
	// current holder.
	ClearActiveRequest(ctx context.Context, requestID string) error

	CompletedRequestID(ctx context.Context) (string, error)
	SetCompletedRequest(ctx context.Context, requestID string) error
	ClearCompletedRequest(ctx context.Context) error

	AppendJob(ctx context.Context, rec model.JobRecord) error
	Jobs(ctx context.Context, limit int) ([]model.JobRecord, error)

	Close() error
}

var ErrNotFound = errors.New("not found")
