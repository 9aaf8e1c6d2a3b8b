package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/editstack/cutcore/pkg/models"
)

const (
	// scheduleInterval is the cadence of the publish loop.
	scheduleInterval = 5 * time.Second

	// maintainEvery counts schedule ticks between maintenance passes
	// (stale-job requeue and heap refill from the database).
	maintainEvery = 12

	// staleAfter is how long a rendering job's progress writes may stall
	// before the job is presumed lost and requeued.
	staleAfter = 10 * time.Minute

	// refillMinAge keeps the refill from republishing rows that were
	// touched moments ago: fresh submissions already have a delivery in
	// flight, and retried jobs are waiting out their backoff.
	refillMinAge = time.Minute

	refillBatch = 500
)

// ExportScheduler admits pending export jobs to the render queue,
// highest priority first, keeping the number of concurrent renders
// under a ceiling. Renders happen in separate worker processes, so the
// active count is reconciled from the database rather than trusted to
// in-memory bookkeeping.
type ExportScheduler struct {
	queue         *PriorityQueue
	mu            sync.RWMutex
	maxConcurrent int
	activeJobs    int
	inHeap        map[string]bool
	repo          Repository
	publisher     Publisher
	maxRetries    int
	ctx           context.Context
	cancel        context.CancelFunc
}

// Repository defines the job persistence the scheduler depends on
type Repository interface {
	GetPendingExportJobs(ctx context.Context, limit int) ([]*models.ExportJob, error)
	CountExportJobsInState(ctx context.Context, state string) (int, error)
	RequeueStaleExports(ctx context.Context, olderThan time.Duration, maxRetries int) (int64, error)
}

// Publisher defines the queue side the scheduler publishes into
type Publisher interface {
	PublishExportJob(ctx context.Context, job *models.ExportJob) error
}

// NewScheduler creates an export scheduler
func NewScheduler(repo Repository, publisher Publisher, maxConcurrent, maxRetries int) *ExportScheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &ExportScheduler{
		queue:         &PriorityQueue{},
		maxConcurrent: maxConcurrent,
		inHeap:        make(map[string]bool),
		repo:          repo,
		publisher:     publisher,
		maxRetries:    maxRetries,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start loads waiting jobs and begins the scheduling loop
func (s *ExportScheduler) Start() error {
	heap.Init(s.queue)

	if err := s.refill(); err != nil {
		return fmt.Errorf("failed to load pending export jobs: %w", err)
	}

	go s.scheduleLoop()

	log.Println("Export scheduler started")
	return nil
}

// Stop stops the scheduler
func (s *ExportScheduler) Stop() {
	s.cancel()
	log.Println("Export scheduler stopped")
}

// ScheduleJob adds an export job to the admission queue. Jobs already
// waiting in the heap are not added twice.
func (s *ExportScheduler) ScheduleJob(job *models.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inHeap[job.ID] {
		return nil
	}

	heap.Push(s.queue, &QueueItem{
		Job:       job,
		Priority:  job.Priority,
		Timestamp: time.Now(),
	})
	s.inHeap[job.ID] = true
	return nil
}

func (s *ExportScheduler) scheduleLoop() {
	ticker := time.NewTicker(scheduleInterval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			tick++
			if tick%maintainEvery == 0 {
				s.maintain()
			}
			s.processQueue()
		}
	}
}

// maintain reclaims lost renders and tops the heap up from the
// database. Both are idempotent, so running schedulers side by side in
// replicated API processes is safe: publishes are deduplicated by the
// workers' exclusive claim.
func (s *ExportScheduler) maintain() {
	requeued, err := s.repo.RequeueStaleExports(s.ctx, staleAfter, s.maxRetries)
	if err != nil {
		log.Printf("Failed to requeue stale exports: %v", err)
	} else if requeued > 0 {
		log.Printf("Requeued %d stale export jobs", requeued)
	}

	if err := s.refill(); err != nil {
		log.Printf("Failed to refill export queue: %v", err)
	}
}

// refill schedules pending rows that have no delivery in flight:
// requeued stale jobs, jobs submitted while the scheduler was down, and
// publishes that never reached the broker.
func (s *ExportScheduler) refill() error {
	jobs, err := s.repo.GetPendingExportJobs(s.ctx, refillBatch)
	if err != nil {
		return err
	}

	added := 0
	for _, job := range jobs {
		if time.Since(job.UpdatedAt) < refillMinAge {
			continue
		}
		if err := s.ScheduleJob(job); err != nil {
			log.Printf("Failed to schedule export job %s: %v", job.ID, err)
			continue
		}
		added++
	}

	if added > 0 {
		log.Printf("Loaded %d pending export jobs", added)
	}
	return nil
}

// reconcileActive counts rendering jobs in the database. Workers run in
// their own processes, so this is the only view of the render load that
// survives restarts and missed completion signals.
func (s *ExportScheduler) reconcileActive() {
	rendering, err := s.repo.CountExportJobsInState(s.ctx, models.ExportStateRendering)
	if err != nil {
		log.Printf("Failed to count rendering exports: %v", err)
		return
	}
	cancelling, err := s.repo.CountExportJobsInState(s.ctx, models.ExportStateCancelling)
	if err != nil {
		log.Printf("Failed to count cancelling exports: %v", err)
		return
	}

	s.mu.Lock()
	s.activeJobs = rendering + cancelling
	s.mu.Unlock()
}

// processQueue publishes waiting jobs while render capacity remains.
// There is no intermediate queued state: published rows stay pending
// until a worker takes the exclusive claim, which also makes duplicate
// publishes harmless.
func (s *ExportScheduler) processQueue() {
	s.reconcileActive()

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.activeJobs < s.maxConcurrent && s.queue.Len() > 0 {
		item := heap.Pop(s.queue).(*QueueItem)

		if err := s.publisher.PublishExportJob(s.ctx, item.Job); err != nil {
			log.Printf("Failed to publish export job %s: %v", item.Job.ID, err)
			heap.Push(s.queue, item)
			break
		}
		delete(s.inHeap, item.Job.ID)

		s.activeJobs++
		log.Printf("Scheduled export job %s (priority: %d, active: %d/%d)",
			item.Job.ID, item.Priority, s.activeJobs, s.maxConcurrent)
	}
}

// JobCompleted tells the scheduler a render slot freed up ahead of the
// next reconcile.
func (s *ExportScheduler) JobCompleted(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeJobs > 0 {
		s.activeJobs--
	}

	log.Printf("Export job %s finished (active: %d/%d)", jobID, s.activeJobs, s.maxConcurrent)
}

// GetQueueDepth returns the number of jobs waiting for admission
func (s *ExportScheduler) GetQueueDepth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queue.Len()
}

// GetActiveJobs returns the number of renders believed in flight
func (s *ExportScheduler) GetActiveJobs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeJobs
}

// PriorityQueue implements a priority queue for export jobs
type PriorityQueue []*QueueItem

// QueueItem represents an export job waiting for admission
type QueueItem struct {
	Job       *models.ExportJob
	Priority  int
	Timestamp time.Time
	Index     int
}

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	// Higher priority first
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority > pq[j].Priority
	}
	// If same priority, FIFO (earlier timestamp first)
	return pq[i].Timestamp.Before(pq[j].Timestamp)
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*QueueItem)
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*pq = old[0 : n-1]
	return item
}
