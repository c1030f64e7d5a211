package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-mcq/internal/mcq"
)

const (
	subscriberBuffer = 16
	mirrorTimeout    = 2 * time.Second
)

// Mirror keeps a copy of job views outside the process so status survives
// a restart.
type Mirror interface {
	Save(ctx context.Context, v View) error
	Load(ctx context.Context, id string) (View, error)
}

// Registry owns every job record in the process.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	subs   map[string][]chan View
	mirror Mirror
	now    func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMirror writes every update through to m.
func WithMirror(m Mirror) RegistryOption {
	return func(r *Registry) {
		r.mirror = m
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		jobs: make(map[string]*Job),
		subs: make(map[string][]chan View),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores a new pending job for p.
func (r *Registry) Create(p Payload) View {
	now := r.now()
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Payload:   p,
		Logs:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
		Summary: Summary{
			TopicsRequested: len(p.Topics),
			BookFingerprint: p.BookFingerprint,
		},
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	v := job.view()
	r.mu.Unlock()

	r.save(v)
	return v
}

// Update applies fn to the job under the registry lock. When fn returns an
// error the job's timestamp is left alone and nothing is published.
func (r *Registry) Update(id string, fn func(*Job) error) (View, error) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return View{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := fn(job); err != nil {
		r.mu.Unlock()
		return View{}, err
	}
	job.UpdatedAt = r.now()
	v := job.view()
	r.publish(id, v)
	r.mu.Unlock()

	r.save(v)
	return v, nil
}

// Logf appends a timestamped line to the job's log.
func (r *Registry) Logf(id, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	_, err := r.Update(id, func(j *Job) error {
		r.appendLog(j, msg)
		return nil
	})
	if err != nil {
		slog.Warn("job log dropped", "job_id", id, "message", msg, "error", err)
	}
}

// appendLog is for use inside Update.
func (r *Registry) appendLog(j *Job, msg string) {
	j.Logs = append(j.Logs, fmt.Sprintf("[%s] %s", r.now().Format("15:04:05"), msg))
	slog.Info("job log", "job_id", j.ID, "message", msg)
}

// View returns a copy of the job.
func (r *Registry) View(id string) (View, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return View{}, false
	}
	return job.view(), true
}

// Lookup returns the job from memory, falling back to the mirror.
func (r *Registry) Lookup(ctx context.Context, id string) (View, error) {
	if v, ok := r.View(id); ok {
		return v, nil
	}
	if r.mirror == nil {
		return View{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	v, err := r.mirror.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("job mirror lookup failed", "job_id", id, "error", err)
		}
		return View{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return v, nil
}

// Snapshot returns a fresh copy of the job's generated batches.
func (r *Registry) Snapshot(id string) ([]mcq.TopicBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if job.Snapshot == nil {
		return nil, ErrNoSnapshot
	}
	return mcq.CloneBatches(job.Snapshot), nil
}

// read runs fn against the job under the read lock. fn must not retain j.
func (r *Registry) read(id string, fn func(j *Job) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fn(job)
}

// Subscribe streams the job's view after every update, starting with the
// current one. Slow readers see the latest views; older ones are dropped.
// The returned func cancels the subscription.
func (r *Registry) Subscribe(id string) (<-chan View, func(), error) {
	ch := make(chan View, subscriberBuffer)

	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	ch <- job.view()
	r.subs[id] = append(r.subs[id], ch)
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			subs := r.subs[id]
			for i, c := range subs {
				if c == ch {
					r.subs[id] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(r.subs[id]) == 0 {
				delete(r.subs, id)
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

// publish must be called with r.mu held.
func (r *Registry) publish(id string, v View) {
	for _, ch := range r.subs[id] {
		select {
		case ch <- v:
		default:
			// Full: drop the oldest view to make room.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

func (r *Registry) save(v View) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := r.mirror.Save(ctx, v); err != nil {
		slog.Warn("job mirror write failed", "job_id", v.JobID, "error", err)
	}
}
