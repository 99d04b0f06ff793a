package gpu

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

// Scheduler runs pipeline compilation jobs off the frame thread.
type Scheduler interface {
	Schedule(job func())
}

// PoolScheduler runs jobs on a dynamic worker pool. Workers exit after a
// second of idleness and are respawned on demand.
type PoolScheduler struct {
	pool   worker.DynamicWorkerPool
	nextID atomic.Int64
}

func NewPoolScheduler(workers int) *PoolScheduler {
	if workers <= 0 {
		workers = 2
	}
	return &PoolScheduler{pool: worker.NewDynamicWorkerPool(workers, 256, 1*time.Second)}
}

func (s *PoolScheduler) Schedule(job func()) {
	id := int(s.nextID.Add(1))
	s.pool.SubmitTask(worker.Task{
		ID: id,
		Do: func() (any, error) {
			job()
			return nil, nil
		},
	})
}

// ManualScheduler queues jobs until RunPending is called. It stands in for
// a compiler that finishes at a frame boundary of the caller's choosing.
type ManualScheduler struct {
	mu   sync.Mutex
	jobs []func()
}

func (s *ManualScheduler) Schedule(job func()) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
}

func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// RunPending runs every queued job on the calling goroutine and returns how
// many ran.
func (s *ManualScheduler) RunPending() int {
	s.mu.Lock()
	jobs := s.jobs
	s.jobs = nil
	s.mu.Unlock()
	for _, job := range jobs {
		job()
	}
	return len(jobs)
}

// RunNext runs the oldest queued job, if any.
func (s *ManualScheduler) RunNext() bool {
	s.mu.Lock()
	if len(s.jobs) == 0 {
		s.mu.Unlock()
		return false
	}
	job := s.jobs[0]
	s.jobs = s.jobs[1:]
	s.mu.Unlock()
	job()
	return true
}

// InlineScheduler compiles synchronously inside GetOrCompile.
type InlineScheduler struct{}

func (InlineScheduler) Schedule(job func()) { job() }
