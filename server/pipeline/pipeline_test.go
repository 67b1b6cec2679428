package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scalpsense/scalp-cv/server/cache"
	"github.com/scalpsense/scalp-cv/server/detector"
	"github.com/scalpsense/scalp-cv/server/models"
	"go.uber.org/zap"
)

type countingDetector struct {
	mutex      sync.Mutex
	calls      int
	extraction *detector.Extraction
	err        error
}

func (d *countingDetector) Detect(ctx context.Context, imageB64 string, confidence float64) (*detector.Extraction, error) {
	d.mutex.Lock()
	d.calls++
	d.mutex.Unlock()

	if d.err != nil {
		return nil, d.err
	}
	if d.extraction != nil {
		return d.extraction, nil
	}
	return &detector.Extraction{ImageWidth: 100, ImageHeight: 100}, nil
}

func (d *countingDetector) callCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.calls
}

func matchingExtraction() *detector.Extraction {
	return &detector.Extraction{
		Predictions: []models.Prediction{{
			Class:      "balding",
			Confidence: 0.8,
			Center:     &models.Point{X: 50, Y: 50},
			Width:      25,
			Height:     20,
		}},
		ImageWidth:  100,
		ImageHeight: 100,
	}
}

func newTestOrchestrator(t *testing.T, d detector.Detector, withCache bool) *Orchestrator {
	t.Helper()

	var resultCache cache.Cache
	if withCache {
		memCache := cache.NewMemoryCache(100, time.Minute, zap.NewNop())
		t.Cleanup(func() { memCache.Close() })
		resultCache = memCache
	}

	o := NewOrchestrator(d, resultCache, Config{
		TargetClass:      "balding",
		APIKeyConfigured: true,
		QueueSize:        8,
		Workers:          2,
	}, zap.NewNop())
	t.Cleanup(func() { o.Shutdown(time.Second) })
	return o
}

func runPipeline(t *testing.T, o *Orchestrator, req *models.CompareRequest) []models.Event {
	t.Helper()
	var events []models.Event
	o.Run(context.Background(), req, func(ev models.Event) {
		events = append(events, ev)
	})
	if len(events) == 0 {
		t.Fatal("pipeline emitted no events")
	}
	return events
}

func transitionLog(events []models.Event) []string {
	var log []string
	seen := map[string]bool{}
	for _, ev := range events {
		if ev.Type != models.EventProgress {
			continue
		}
		for _, step := range ev.Steps {
			if step.Status == models.StepPending {
				continue
			}
			key := string(step.Name) + ":" + string(step.Status)
			if !seen[key] {
				seen[key] = true
				log = append(log, key)
			}
		}
	}
	return log
}

func TestRun_SuccessfulComparison(t *testing.T) {
	fake := &countingDetector{extraction: matchingExtraction()}
	o := newTestOrchestrator(t, fake, false)

	events := runPipeline(t, o, &models.CompareRequest{
		Before: []byte("before-image"),
		After:  []byte("after-image"),
	})

	last := events[len(events)-1]
	if last.Type != models.EventComplete {
		t.Fatalf("terminal event = %s, expected complete", last.Type)
	}
	if last.Result == nil || last.Result.Before == nil || last.Result.After == nil {
		t.Fatal("complete frame missing results")
	}
	if !last.Result.Before.Detected || last.Result.Before.AreaPercentage != 5.00 {
		t.Errorf("before result = %+v, expected detected with 5.00%%", last.Result.Before)
	}
	if last.TotalDuration < 0 {
		t.Errorf("totalDuration = %d", last.TotalDuration)
	}

	for _, ev := range events[:len(events)-1] {
		if ev.Type != models.EventProgress {
			t.Errorf("non-terminal event of type %s", ev.Type)
		}
	}
}

func TestRun_ProgressOrdering(t *testing.T) {
	fake := &countingDetector{extraction: matchingExtraction()}
	o := newTestOrchestrator(t, fake, false)

	events := runPipeline(t, o, &models.CompareRequest{
		Before: []byte("b"), After: []byte("a"),
	})

	log := transitionLog(events)
	joined := strings.Join(log, ",")

	mustPrecede := [][2]string{
		{"validate:running", "validate:completed"},
		{"validate:completed", "prepare:running"},
		{"prepare:running", "prepare:completed"},
		{"prepare:completed", "analyze_before:running"},
		{"analyze_before:running", "analyze_after:running"},
		{"analyze_before:running", "analyze_before:completed"},
		{"analyze_after:running", "analyze_after:completed"},
		{"analyze_before:completed", "finalize:running"},
		{"analyze_after:completed", "finalize:running"},
		{"finalize:running", "finalize:completed"},
	}
	for _, pair := range mustPrecede {
		i := strings.Index(joined, pair[0])
		j := strings.Index(joined, pair[1])
		if i < 0 || j < 0 || i > j {
			t.Errorf("expected %q before %q in transition log %v", pair[0], pair[1], log)
		}
	}
}

func TestRun_MissingAPIKey(t *testing.T) {
	o := NewOrchestrator(&countingDetector{}, nil, Config{
		TargetClass:      "balding",
		APIKeyConfigured: false,
	}, zap.NewNop())
	t.Cleanup(func() { o.Shutdown(time.Second) })

	var events []models.Event
	o.Run(context.Background(), &models.CompareRequest{Before: []byte("b"), After: []byte("a")}, func(ev models.Event) {
		events = append(events, ev)
	})

	if len(events) != 1 {
		t.Fatalf("expected a single error frame, got %d events", len(events))
	}
	if events[0].Type != models.EventError {
		t.Fatalf("event type = %s, expected error", events[0].Type)
	}
}

func TestRun_MissingImageFailsAtValidate(t *testing.T) {
	o := newTestOrchestrator(t, &countingDetector{}, false)

	events := runPipeline(t, o, &models.CompareRequest{Before: []byte("b")})

	last := events[len(events)-1]
	if last.Type != models.EventError {
		t.Fatalf("terminal event = %s, expected error", last.Type)
	}
	for _, key := range transitionLog(events) {
		if key != "validate:running" {
			t.Errorf("unexpected transition %q before validation failure", key)
		}
	}
}

func TestRun_DetectorFailureIsTerminalError(t *testing.T) {
	fake := &countingDetector{err: detector.ErrDetectorUnavailable}
	o := newTestOrchestrator(t, fake, false)

	events := runPipeline(t, o, &models.CompareRequest{Before: []byte("b"), After: []byte("a")})

	terminals := 0
	for _, ev := range events {
		if ev.Type == models.EventError || ev.Type == models.EventComplete {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("expected exactly one terminal frame, got %d", terminals)
	}
	if events[len(events)-1].Type != models.EventError {
		t.Errorf("last event = %s, expected error", events[len(events)-1].Type)
	}
}

func TestRun_NoDetectionsIsStillComplete(t *testing.T) {
	// All thresholds exhausted with nothing found: a valid detected:false
	// outcome, not a failure.
	fake := &countingDetector{}
	o := newTestOrchestrator(t, fake, false)

	events := runPipeline(t, o, &models.CompareRequest{Before: []byte("b"), After: []byte("a")})

	last := events[len(events)-1]
	if last.Type != models.EventComplete {
		t.Fatalf("terminal event = %s, expected complete", last.Type)
	}
	if last.Result.Before.Detected || last.Result.After.Detected {
		t.Error("expected detected=false on both images")
	}
	// 5 thresholds per image, both images analyzed.
	if fake.callCount() != 10 {
		t.Errorf("detector calls = %d, expected 10", fake.callCount())
	}
}

func TestRun_CacheSkipsDetector(t *testing.T) {
	fake := &countingDetector{extraction: matchingExtraction()}
	o := newTestOrchestrator(t, fake, true)

	req := &models.CompareRequest{Before: []byte("same"), After: []byte("same")}

	runPipeline(t, o, req)
	first := fake.callCount()

	events := runPipeline(t, o, req)
	if fake.callCount() != first {
		t.Errorf("second run hit the detector: %d -> %d calls", first, fake.callCount())
	}
	if events[len(events)-1].Type != models.EventComplete {
		t.Error("cached run should still complete")
	}
}
