package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"roadassist/internal/model"
)

// File is the default store: one JSON document rewritten atomically on
// every mutation. Plenty for a single-party client.
type File struct {
	mu   sync.Mutex
	path string
	doc  fileDoc
}

type fileDoc struct {
	Session       *model.Session    `json:"session,omitempty"`
	ActiveRequest string            `json:"active_request_id,omitempty"`
	CompletedReq  string            `json:"completed_request_id,omitempty"`
	Jobs          []model.JobRecord `json:"jobs,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewFile loads (or creates) the store at path.
func NewFile(path string) (*File, error) {
	f := &File{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &f.doc); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *File) flushLocked() error {
	f.doc.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&f.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *File) Session(ctx context.Context) (model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.doc.Session == nil {
		return model.Session{}, ErrNotFound
	}
	return *f.doc.Session, nil
}

func (f *File) SaveSession(ctx context.Context, s model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc.Session = &s
	return f.flushLocked()
}

func (f *File) ClearSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc.Session = nil
	f.doc.ActiveRequest = ""
	f.doc.CompletedReq = ""
	return f.flushLocked()
}

func (f *File) ActiveRequestID(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.ActiveRequest, nil
}

func (f *File) SetActiveRequest(ctx context.Context, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc.ActiveRequest = requestID
	return f.flushLocked()
}

func (f *File) ClearActiveRequest(ctx context.Context, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.doc.ActiveRequest != requestID {
		return nil
	}
	f.doc.ActiveRequest = ""
	return f.flushLocked()
}

func (f *File) CompletedRequestID(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.CompletedReq, nil
}

func (f *File) SetCompletedRequest(ctx context.Context, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc.CompletedReq = requestID
	return f.flushLocked()
}

func (f *File) ClearCompletedRequest(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc.CompletedReq = ""
	return f.flushLocked()
}

func (f *File) AppendJob(ctx context.Context, rec model.JobRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ClosedAt.IsZero() {
		rec.ClosedAt = time.Now().UTC()
	}
	// newest first
	f.doc.Jobs = append([]model.JobRecord{rec}, f.doc.Jobs...)
	return f.flushLocked()
}

func (f *File) Jobs(ctx context.Context, limit int) ([]model.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jobs := f.doc.Jobs
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	out := make([]model.JobRecord, len(jobs))
	copy(out, jobs)
	return out, nil
}

func (f *File) Close() error { return nil }
