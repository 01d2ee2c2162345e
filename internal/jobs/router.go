package jobs

import (
	"context"
	"fmt"
)

// Router dispatches jobs to the handler registered for their type.
type Router struct {
	handlers map[JobType]JobHandler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[JobType]JobHandler)}
}

// Handle registers h for jobs of type t, replacing any earlier handler.
func (r *Router) Handle(t JobType, h JobHandler) {
	r.handlers[t] = h
}

// Dispatch is a JobHandler that routes by job type.
func (r *Router) Dispatch(ctx context.Context, job *Job) error {
	h, ok := r.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler for job type %q", job.Type)
	}
	return h(ctx, job)
}

// Enqueue publishes a job of type t for subjectID. A nil publisher is a no-op
// so callers can run without background processing.
func Enqueue(ctx context.Context, p Publisher, t JobType, subjectID string) (*Job, error) {
	if p == nil {
		return nil, nil
	}
	job := &Job{Type: t, SubjectID: subjectID}
	if err := p.Publish(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue %s for %s: %w", t, subjectID, err)
	}
	return job, nil
}

// Gate wraps p so that jobs of a type with no registered handler are dropped
// instead of queued. Optional background work is switched off by simply not
// registering its handler.
func (r *Router) Gate(p Publisher) Publisher {
	return &gatedPublisher{router: r, next: p}
}

type gatedPublisher struct {
	router *Router
	next   Publisher
}

func (g *gatedPublisher) Publish(ctx context.Context, job *Job) error {
	if _, ok := g.router.handlers[job.Type]; !ok {
		return nil
	}
	return g.next.Publish(ctx, job)
}

func (g *gatedPublisher) Close() error {
	return g.next.Close()
}
