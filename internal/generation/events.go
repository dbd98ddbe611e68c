package generation

import "github.com/lei/readme-gateway/internal/models"

// EventType identifies a job lifecycle notification
type EventType string

const (
	EventStarted  EventType = "started"
	EventProgress EventType = "progress"
	EventFinished EventType = "finished"
)

// Event is delivered to subscribers on every job transition. Job is a
// snapshot taken at the time of the transition. Err is set on finished
// events for jobs that did not succeed.
type Event struct {
	Type EventType
	Job  models.GenerationJob
	Err  error
}

// Succeeded reports whether e is the completion of a successful job
func (e Event) Succeeded() bool {
	return e.Type == EventFinished && e.Job.Phase == models.PhaseSucceeded
}

// Subscribe registers fn for job events and returns a function that removes
// it. fn runs on the goroutine driving the job and must not block.
func (c *Client) Subscribe(fn func(Event)) func() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn

	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Client) emit(ev Event) {
	c.subsMu.Lock()
	fns := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
