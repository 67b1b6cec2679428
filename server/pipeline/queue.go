package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scalpsense/scalp-cv/server/models"
)

// WorkerPool bounds the number of concurrent detector analyses across all
// requests. Each compare request submits its two analyze tasks as jobs; the
// pool caps how many confidence descents run against the upstream service at
// once.
type WorkerPool struct {
	jobs       chan *AnalysisJob
	workers    int
	workerFunc func(*AnalysisJob)
	wg         sync.WaitGroup
	shutdown   chan struct{}
	isRunning  bool
	mutex      sync.RWMutex
}

// AnalysisJob is one image analysis task: a confidence descent plus
// aggregation for a single photograph.
type AnalysisJob struct {
	Ctx        context.Context
	Step       models.StepName
	ImageData  []byte
	ImageB64   string
	ResultChan chan *AnalysisOutcome
}

type AnalysisOutcome struct {
	Step   models.StepName
	Result *models.AggregatedResult
	Err    error
}

func NewWorkerPool(queueSize, workers int, workerFunc func(*AnalysisJob)) *WorkerPool {
	pool := &WorkerPool{
		jobs:       make(chan *AnalysisJob, queueSize),
		workers:    workers,
		workerFunc: workerFunc,
		shutdown:   make(chan struct{}),
		isRunning:  true,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}

	return pool
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobs:
			if job != nil {
				p.runJob(job)
			}
		case <-p.shutdown:
			return
		}
	}
}

func (p *WorkerPool) runJob(job *AnalysisJob) {
	defer func() {
		if r := recover(); r != nil {
			select {
			case job.ResultChan <- &AnalysisOutcome{
				Step: job.Step,
				Err:  fmt.Errorf("analysis panic: %v", r),
			}:
			default:
			}
		}
	}()

	p.workerFunc(job)
}

// Submit enqueues a job without blocking. Returns false when the pool is
// saturated or shut down.
func (p *WorkerPool) Submit(job *AnalysisJob) bool {
	p.mutex.RLock()
	running := p.isRunning
	p.mutex.RUnlock()
	if !running {
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

func (p *WorkerPool) Size() int {
	return len(p.jobs)
}

func (p *WorkerPool) Workers() int {
	return p.workers
}

func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.mutex.Lock()
	if !p.isRunning {
		p.mutex.Unlock()
		return nil
	}
	p.isRunning = false
	p.mutex.Unlock()

	close(p.shutdown)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("worker pool shutdown timeout exceeded")
	}
}
