package detector

import (
	"math"

	"github.com/scalpsense/scalp-cv/server/models"
)

// The detector endpoint family answers in several shapes for the same logical
// call: a top-level "predictions" array, a nested "outputs[0].predictions",
// or a nested "outputs[0].sam" (either an array or an object wrapping a
// "predictions" array), possibly with a "mask_visualization" payload and
// explicit image dimensions under "sam.image". The response is untyped input
// and is parsed field-by-field with explicit fallbacks, never assumed
// well-formed.
func normalizeResponse(raw map[string]any) *Extraction {
	extraction := &Extraction{}

	predNode, output := locatePredictions(raw)
	extraction.Predictions = parsePredictions(predNode)
	extraction.MaskImage = parseMask(output)

	width, height := explicitDimensions(raw, output)
	if width <= 0 || height <= 0 {
		width, height = inferDimensions(extraction.Predictions)
	}
	extraction.ImageWidth = width
	extraction.ImageHeight = height

	return extraction
}

// locatePredictions finds the prediction list in any of the supported shapes
// and returns it together with the outputs[0] object when one exists.
func locatePredictions(raw map[string]any) ([]any, map[string]any) {
	if preds := asSlice(raw["predictions"]); preds != nil {
		return preds, nil
	}

	outputs := asSlice(raw["outputs"])
	if len(outputs) == 0 {
		return nil, nil
	}
	output := asMap(outputs[0])
	if output == nil {
		return nil, nil
	}

	for _, key := range []string{"predictions", "sam"} {
		node := output[key]
		if preds := asSlice(node); preds != nil {
			return preds, output
		}
		if wrapper := asMap(node); wrapper != nil {
			return asSlice(wrapper["predictions"]), output
		}
	}

	return nil, output
}

func parsePredictions(items []any) []models.Prediction {
	var predictions []models.Prediction
	for _, item := range items {
		entry := asMap(item)
		if entry == nil {
			continue
		}

		prediction := models.Prediction{
			Class:      asString(entry["class"]),
			Confidence: asFloat(entry["confidence"]),
		}

		if points := asSlice(entry["points"]); len(points) > 0 {
			prediction.Points = parsePoints(points)
		} else {
			prediction.Center = &models.Point{
				X: asFloat(entry["x"]),
				Y: asFloat(entry["y"]),
			}
			prediction.Width = asFloat(entry["width"])
			prediction.Height = asFloat(entry["height"])
		}

		predictions = append(predictions, prediction)
	}
	return predictions
}

func parsePoints(items []any) []models.Point {
	points := make([]models.Point, 0, len(items))
	for _, item := range items {
		entry := asMap(item)
		if entry == nil {
			continue
		}
		points = append(points, models.Point{X: asFloat(entry["x"]), Y: asFloat(entry["y"])})
	}
	return points
}

// parseMask accepts mask_visualization either as a plain string or as an
// object carrying the payload under "value".
func parseMask(output map[string]any) string {
	if output == nil {
		return ""
	}
	node := output["mask_visualization"]
	if mask := asString(node); mask != "" {
		return mask
	}
	if wrapper := asMap(node); wrapper != nil {
		return asString(wrapper["value"])
	}
	return ""
}

// explicitDimensions prefers dimensions stated by the response itself:
// outputs[0].sam.image first, then a top-level image object.
func explicitDimensions(raw, output map[string]any) (float64, float64) {
	if output != nil {
		if sam := asMap(output["sam"]); sam != nil {
			if image := asMap(sam["image"]); image != nil {
				if w, h := asFloat(image["width"]), asFloat(image["height"]); w > 0 && h > 0 {
					return w, h
				}
			}
		}
	}
	if image := asMap(raw["image"]); image != nil {
		if w, h := asFloat(image["width"]), asFloat(image["height"]); w > 0 && h > 0 {
			return w, h
		}
	}
	return 0, 0
}

// inferDimensions estimates the image extent from the outermost prediction
// coordinates when the response omits explicit dimensions, inflated by 10%
// as a safety margin. Heuristic, not exact.
func inferDimensions(predictions []models.Prediction) (float64, float64) {
	maxX := 0.0
	maxY := 0.0
	for _, p := range predictions {
		if p.HasPolygon() {
			for _, pt := range p.Points {
				maxX = math.Max(maxX, pt.X)
				maxY = math.Max(maxY, pt.Y)
			}
		} else if p.Center != nil {
			maxX = math.Max(maxX, p.Center.X+p.Width/2)
			maxY = math.Max(maxY, p.Center.Y+p.Height/2)
		}
	}
	return maxX * 1.1, maxY * 1.1
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
