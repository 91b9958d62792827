package chat

import (
	"context"
	"testing"
	"time"
)

func TestRepo_JobLifecycle(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"job-ok", "job-fallback", "job-ignored", "job-failed"} {
		j := &Job{ID: id, UserID: 1, SessionID: "s", Prompt: "hi", SentAt: time.Now(), Status: JobQueued}
		if _, created, err := repo.CreateJobOrGetExisting(ctx, j); err != nil || !created {
			t.Fatalf("create %s: created=%v err=%v", id, created, err)
		}
		if err := repo.UpdateJobStatusRunning(ctx, id); err != nil {
			t.Fatalf("running %s: %v", id, err)
		}
	}

	if err := repo.MarkJobSucceeded(ctx, "job-ok", 7); err != nil {
		t.Fatalf("MarkJobSucceeded: %v", err)
	}
	if err := repo.MarkJobSucceeded(ctx, "job-fallback", 0); err != nil {
		t.Fatalf("MarkJobSucceeded: %v", err)
	}
	if err := repo.MarkJobIgnored(ctx, "job-ignored", string(StatusBusy)); err != nil {
		t.Fatalf("MarkJobIgnored: %v", err)
	}
	if err := repo.MarkJobFailed(ctx, "job-failed", "boom"); err != nil {
		t.Fatalf("MarkJobFailed: %v", err)
	}

	j, err := repo.GetJobByID(ctx, "job-ok")
	if err != nil {
		t.Fatalf("GetJobByID: %v", err)
	}
	if j.Status != JobSucceeded || j.ResultMessageID == nil || *j.ResultMessageID != 7 {
		t.Fatalf("unexpected succeeded job: %+v", j)
	}

	j, _ = repo.GetJobByID(ctx, "job-fallback")
	if j.Status != JobSucceeded || j.ResultMessageID != nil {
		t.Fatalf("fallback job must not reference a message: %+v", j)
	}

	j, _ = repo.GetJobByID(ctx, "job-ignored")
	if j.Status != JobIgnored || j.Error == nil || *j.Error != "busy" {
		t.Fatalf("unexpected ignored job: %+v", j)
	}

	j, _ = repo.GetJobByID(ctx, "job-failed")
	if j.Status != JobFailed || j.Error == nil || *j.Error != "boom" {
		t.Fatalf("unexpected failed job: %+v", j)
	}
}
