package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/scalpsense/scalp-cv/server/analysis"
	"github.com/scalpsense/scalp-cv/server/cache"
	"github.com/scalpsense/scalp-cv/server/detector"
	"github.com/scalpsense/scalp-cv/server/models"
	"go.uber.org/zap"
)

var (
	// ErrMissingAPIKey is the configuration error surfaced before any stage
	// runs when no detector credential was supplied.
	ErrMissingAPIKey = errors.New("detector API key is not configured")

	// ErrQueueFull is returned when the analysis worker pool cannot accept
	// more work.
	ErrQueueFull = errors.New("analysis queue full, try again later")
)

type Config struct {
	TargetClass      string
	QueueSize        int
	Workers          int
	APIKeyConfigured bool
	CacheTTL         time.Duration
}

// Orchestrator sequences one comparison request through the five pipeline
// stages, emitting a progress snapshot at every transition and exactly one
// terminal frame. It owns the only mutable copy of the progress record; the
// two analyze tasks run in the worker pool and feed results back over a
// channel, so all progress mutation stays on the orchestrating goroutine.
type Orchestrator struct {
	detector detector.Detector
	cache    cache.Cache
	pool     *WorkerPool
	logger   *zap.Logger
	config   Config
}

func NewOrchestrator(d detector.Detector, resultCache cache.Cache, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}

	o := &Orchestrator{
		detector: d,
		cache:    resultCache,
		logger:   logger,
		config:   cfg,
	}
	o.pool = NewWorkerPool(cfg.QueueSize, cfg.Workers, o.processAnalysis)
	return o
}

// Run executes the full comparison and emits event frames through emit.
// It always emits exactly one terminal frame. The emit callback is only ever
// invoked from the calling goroutine.
func (o *Orchestrator) Run(ctx context.Context, req *models.CompareRequest, emit func(models.Event)) {
	if !o.config.APIKeyConfigured {
		o.logger.Error("comparison rejected", zap.Error(ErrMissingAPIKey))
		emit(models.ErrorEvent(ErrMissingAPIKey.Error()))
		return
	}

	tracker := NewTracker()
	progress := func(state models.ProgressState) {
		emit(models.ProgressEvent(state))
	}

	progress(tracker.Start(models.StepValidate))
	if len(req.Before) == 0 || len(req.After) == 0 {
		emit(models.ErrorEvent("both a before and an after image are required"))
		return
	}
	progress(tracker.Complete(models.StepValidate))

	progress(tracker.Start(models.StepPrepare))
	beforeB64 := base64.StdEncoding.EncodeToString(req.Before)
	afterB64 := base64.StdEncoding.EncodeToString(req.After)
	progress(tracker.Complete(models.StepPrepare))

	progress(tracker.Start(models.StepAnalyzeBefore))
	progress(tracker.Start(models.StepAnalyzeAfter))

	outcomes := make(chan *AnalysisOutcome, 2)
	jobs := []*AnalysisJob{
		{Ctx: ctx, Step: models.StepAnalyzeBefore, ImageData: req.Before, ImageB64: beforeB64, ResultChan: outcomes},
		{Ctx: ctx, Step: models.StepAnalyzeAfter, ImageData: req.After, ImageB64: afterB64, ResultChan: outcomes},
	}
	for _, job := range jobs {
		if !o.pool.Submit(job) {
			o.logger.Warn("analysis pool saturated", zap.Int("queued", o.pool.Size()))
			emit(models.ErrorEvent(ErrQueueFull.Error()))
			return
		}
	}

	results := make(map[models.StepName]*models.AggregatedResult, 2)
	for i := 0; i < len(jobs); i++ {
		select {
		case outcome := <-outcomes:
			if outcome.Err != nil {
				o.logger.Error("image analysis failed",
					zap.String("step", string(outcome.Step)),
					zap.Error(outcome.Err))
				emit(models.ErrorEvent(outcome.Err.Error()))
				return
			}
			results[outcome.Step] = outcome.Result
			progress(tracker.Complete(outcome.Step))
		case <-ctx.Done():
			emit(models.ErrorEvent(fmt.Sprintf("comparison cancelled: %v", ctx.Err())))
			return
		}
	}

	progress(tracker.Start(models.StepFinalize))
	comparison := &models.ComparisonResult{
		Before: results[models.StepAnalyzeBefore],
		After:  results[models.StepAnalyzeAfter],
	}
	progress(tracker.Complete(models.StepFinalize))

	state := tracker.Finish()
	o.logger.Info("comparison complete",
		zap.Int64("total_ms", state.TotalDuration),
		zap.Bool("before_detected", comparison.Before.Detected),
		zap.Bool("after_detected", comparison.After.Detected))
	emit(models.CompleteEvent(state, comparison))
}

// processAnalysis is the worker-pool body: one confidence descent plus
// aggregation for a single image, with a cache in front of the detector.
func (o *Orchestrator) processAnalysis(job *AnalysisJob) {
	result, err := o.analyzeImage(job.Ctx, job.ImageData, job.ImageB64)
	job.ResultChan <- &AnalysisOutcome{Step: job.Step, Result: result, Err: err}
}

func (o *Orchestrator) analyzeImage(ctx context.Context, imageData []byte, imageB64 string) (*models.AggregatedResult, error) {
	key := cache.ResultKey(imageData, o.config.TargetClass)

	if o.cache != nil {
		if cached, err := o.cache.Get(ctx, key); err == nil {
			o.logger.Debug("analysis cache hit", zap.String("key", key))
			return cached, nil
		}
	}

	descent, err := detector.RunDescent(ctx, o.detector, imageB64, o.config.TargetClass, o.logger)
	if err != nil {
		return nil, err
	}

	result := analysis.Aggregate(descent.Predictions, descent.ImageWidth, descent.ImageHeight, descent.MaskImage)

	if o.cache != nil {
		if err := o.cache.SetWithTTL(ctx, key, result, o.config.CacheTTL); err != nil {
			o.logger.Warn("failed to cache analysis result", zap.Error(err))
		}
	}

	return result, nil
}

func (o *Orchestrator) PoolStats() (queued, workers int) {
	return o.pool.Size(), o.pool.Workers()
}

func (o *Orchestrator) Shutdown(timeout time.Duration) error {
	return o.pool.Shutdown(timeout)
}
