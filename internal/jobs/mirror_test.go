package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/p-n-ai/pai-mcq/internal/platform/cache/cachetest"
)

func TestRedisMirror(t *testing.T) {
	c := cachetest.Start(t)
	m := NewRedisMirror(c, time.Minute)
	ctx := context.Background()

	if _, err := m.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(missing) error = %v, want ErrNotFound", err)
	}

	r := NewRegistry(WithMirror(m))
	v := r.Create(validPayload())
	r.Logf(v.JobID, "mirrored")
	r.Update(v.JobID, func(j *Job) error {
		j.Summary.FailedTopics = []FailedTopic{{Topic: "Like terms", Stage: StageValidation, Reason: "wrong key"}}
		return nil
	})

	got, err := m.Load(ctx, v.JobID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.JobID != v.JobID || got.Status != StatusPending {
		t.Errorf("Load() = %+v", got)
	}
	if len(got.Logs) != 1 || len(got.Summary.FailedTopics) != 1 || got.Summary.FailedTopics[0].Reason != "wrong key" {
		t.Errorf("Load() lost fields: logs=%q summary=%+v", got.Logs, got.Summary)
	}

	ttl, err := c.Client.TTL(ctx, mirrorKeyPrefix+v.JobID).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want within (0, 1m]", ttl)
	}

	restarted := NewRegistry(WithMirror(m))
	if _, err := restarted.Lookup(ctx, v.JobID); err != nil {
		t.Errorf("Lookup() after restart error = %v", err)
	}
}
