// Package dispatch provides per-contact serialized job execution.
//
// Each contact gets its own lane: an unbounded FIFO queue drained by at
// most one goroutine at a time. Lanes are created lazily under a single
// mutex and evicted as soon as they drain empty, so a quiet contact costs
// nothing and a recreated lane for a new burst starts clean.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/dayuer/convoflow-go/internal/job"
	"github.com/dayuer/convoflow-go/internal/logging"
)

// Handler processes one job. It must own its own failure handling; the
// dispatcher only guards against panics to keep the lane alive.
type Handler func(ctx context.Context, j job.TriggerJob)

// lane is one contact's pending work. All fields are guarded by the
// Manager mutex.
type lane struct {
	queue  []job.TriggerJob
	active bool // a drain goroutine is running
}

// Manager owns the contact→lane map.
type Manager struct {
	mu      sync.Mutex
	lanes   map[string]*lane
	handler Handler
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a dispatcher that feeds jobs to handler.
func NewManager(handler Handler) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		lanes:   make(map[string]*lane),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue appends a job to its contact's lane and ensures exactly one
// drain goroutine is running for that contact. Never blocks on job
// execution, so a slow contact cannot stall the caller.
func (m *Manager) Enqueue(j job.TriggerJob) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		logging.L.Warnw("dispatcher stopped, dropping job",
			logging.FieldScope, "dispatch",
			logging.FieldContactID, j.ContactID)
		return
	}

	l, ok := m.lanes[j.ContactID]
	if !ok {
		l = &lane{}
		m.lanes[j.ContactID] = l
	}
	l.queue = append(l.queue, j)
	depth := len(l.queue)

	start := !l.active
	if start {
		l.active = true
		m.wg.Add(1)
	}
	m.mu.Unlock()

	logging.L.Debugw("job enqueued",
		logging.FieldScope, "dispatch",
		logging.FieldContactID, j.ContactID,
		logging.FieldQueueSize, depth)

	if start {
		go m.drain(j.ContactID, l)
	}
}

// drain pops and processes jobs for one contact until the lane empties,
// then evicts it. Only one drain runs per contact, which is the mutual
// exclusion the conversation order depends on.
func (m *Manager) drain(contactID string, l *lane) {
	defer m.wg.Done()

	for {
		m.mu.Lock()
		if len(l.queue) == 0 {
			l.active = false
			delete(m.lanes, contactID)
			m.mu.Unlock()
			return
		}
		next := l.queue[0]
		l.queue = l.queue[1:]
		m.mu.Unlock()

		m.runOne(next)
	}
}

// runOne invokes the handler with a panic guard so one poisoned job
// cannot kill the contact's lane.
func (m *Manager) runOne(j job.TriggerJob) {
	defer func() {
		if r := recover(); r != nil {
			logging.L.Errorw("handler panicked",
				logging.FieldScope, "dispatch",
				logging.FieldContactID, j.ContactID,
				"panic", r)
		}
	}()
	m.handler(m.ctx, j)
}

// Stop refuses new jobs and waits up to grace for in-flight lanes to
// drain. After grace, remaining work is abandoned via context cancel.
func (m *Manager) Stop(grace time.Duration) {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.L.Infow("dispatcher drained", logging.FieldScope, "dispatch")
	case <-time.After(grace):
		logging.L.Warnw("dispatcher drain timed out, cancelling in-flight work",
			logging.FieldScope, "dispatch")
	}
	m.cancel()
}

// Stats reports lane counts for the status endpoint.
func (m *Manager) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := 0
	for _, l := range m.lanes {
		pending += len(l.queue)
	}
	return map[string]any{
		"activeLanes": len(m.lanes),
		"pendingJobs": pending,
	}
}
