package detector

import (
	"context"
	"strings"

	"github.com/scalpsense/scalp-cv/server/models"
	"go.uber.org/zap"
)

// The detector frequently returns zero matching-class predictions at its
// default confidence even when the condition is visually present, so a single
// fixed threshold is insufficient. The descent retries at an explicit,
// bounded list of decreasing thresholds and stops at the first threshold that
// yields a matching prediction.
var descentThresholds = []float64{0.5, 0.4, 0.3, 0.2, 0.1}

// DescentResult is the outcome of one confidence descent over a single image.
// An empty Predictions list is a legitimate outcome, not an error: it means
// the target condition was absent at every threshold.
type DescentResult struct {
	Predictions []models.Prediction
	MaskImage   string
	ImageWidth  float64
	ImageHeight float64
	Threshold   float64
	Attempts    int
}

// RunDescent calls the detector at each threshold in turn, filtering
// predictions to those whose class equals targetClass case-insensitively.
// Image dimensions from the first response are retained even when that
// response's predictions are discarded, so dimensions survive a fully-empty
// outcome. Detector errors abort the descent immediately; there is no
// fault-tolerance retry.
func RunDescent(ctx context.Context, d Detector, imageB64, targetClass string, logger *zap.Logger) (*DescentResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	result := &DescentResult{}

	for _, threshold := range descentThresholds {
		extraction, err := d.Detect(ctx, imageB64, threshold)
		if err != nil {
			return nil, err
		}
		result.Attempts++

		if result.ImageWidth == 0 && result.ImageHeight == 0 {
			result.ImageWidth = extraction.ImageWidth
			result.ImageHeight = extraction.ImageHeight
		}
		if result.MaskImage == "" {
			result.MaskImage = extraction.MaskImage
		}

		matched := filterByClass(extraction.Predictions, targetClass)
		logger.Debug("confidence descent attempt",
			zap.Float64("threshold", threshold),
			zap.Int("returned", len(extraction.Predictions)),
			zap.Int("matched", len(matched)))

		if len(matched) > 0 {
			result.Predictions = matched
			result.Threshold = threshold
			if extraction.MaskImage != "" {
				result.MaskImage = extraction.MaskImage
			}
			return result, nil
		}
	}

	logger.Debug("confidence descent exhausted",
		zap.String("target_class", targetClass),
		zap.Int("attempts", result.Attempts))
	return result, nil
}

func filterByClass(predictions []models.Prediction, targetClass string) []models.Prediction {
	var matched []models.Prediction
	for _, p := range predictions {
		if strings.EqualFold(p.Class, targetClass) {
			matched = append(matched, p)
		}
	}
	return matched
}
