package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"roadassist/internal/model"
)

func newFileStore(t *testing.T) *File {
	t.Helper()
	f, err := NewFile(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	return f
}

func TestSessionRoundTrip(t *testing.T) {
	f := newFileStore(t)
	ctx := context.Background()

	if _, err := f.Session(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store session err = %v", err)
	}
	want := model.Session{Role: model.RoleOwner, Phone: "9999", Name: "Asha"}
	if err := f.SaveSession(ctx, want); err != nil {
		t.Fatal(err)
	}

	// reload from disk
	f2, err := NewFile(f.path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := f2.Session(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("session = %+v, want %+v", got, want)
	}
}

func TestClearActiveRequestOnlyWhenHolder(t *testing.T) {
	f := newFileStore(t)
	ctx := context.Background()

	if err := f.SetActiveRequest(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	// another tracker took over
	if err := f.SetActiveRequest(ctx, "r2"); err != nil {
		t.Fatal(err)
	}
	// stale holder must not clobber the new pointer
	if err := f.ClearActiveRequest(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	id, err := f.ActiveRequestID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != "r2" {
		t.Fatalf("active = %q, want r2", id)
	}

	if err := f.ClearActiveRequest(ctx, "r2"); err != nil {
		t.Fatal(err)
	}
	if id, _ = f.ActiveRequestID(ctx); id != "" {
		t.Fatalf("active = %q, want empty", id)
	}
}

func TestJobHistoryNewestFirst(t *testing.T) {
	f := newFileStore(t)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2", "r3"} {
		if err := f.AppendJob(ctx, model.JobRecord{RequestID: id, Role: model.RoleOwner, Status: model.StatusCompleted}); err != nil {
			t.Fatal(err)
		}
	}
	jobs, err := f.Jobs(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 || jobs[0].RequestID != "r3" || jobs[1].RequestID != "r2" {
		t.Fatalf("jobs = %+v", jobs)
	}
	if jobs[0].ID == "" || jobs[0].ClosedAt.IsZero() {
		t.Fatal("record id/closed_at not filled")
	}
}

func TestCompletedPointerHandoff(t *testing.T) {
	f := newFileStore(t)
	ctx := context.Background()

	if err := f.SetCompletedRequest(ctx, "r9"); err != nil {
		t.Fatal(err)
	}
	id, _ := f.CompletedRequestID(ctx)
	if id != "r9" {
		t.Fatalf("completed = %q", id)
	}
	if err := f.ClearCompletedRequest(ctx); err != nil {
		t.Fatal(err)
	}
	if id, _ = f.CompletedRequestID(ctx); id != "" {
		t.Fatalf("completed after clear = %q", id)
	}
}
