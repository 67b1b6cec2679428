package analysis

import (
	"math"

	"github.com/scalpsense/scalp-cv/server/geometry"
	"github.com/scalpsense/scalp-cv/server/models"
)

// Aggregate combines every prediction that survived the confidence descent
// for one image into a single coverage result. Areas are summed across all
// predictions, not best-of, because multiple disjoint regions may coexist in
// one image. Overlapping regions are double-counted by this summation; that
// matches the upstream behavior and is a known approximation.
func Aggregate(predictions []models.Prediction, imageWidth, imageHeight float64, maskImage string) *models.AggregatedResult {
	result := &models.AggregatedResult{
		ImageWidth:  imageWidth,
		ImageHeight: imageHeight,
		MaskImage:   maskImage,
	}

	if len(predictions) == 0 {
		return result
	}

	totalArea := 0.0
	maxConfidence := 0.0
	var polygons [][]models.Point
	var boxes []models.BoundingBox

	for _, p := range predictions {
		if p.HasPolygon() {
			totalArea += geometry.PolygonArea(p.Points)
			polygons = append(polygons, p.Points)
		} else if p.Center != nil {
			totalArea += geometry.BoxArea(p.Width, p.Height)
			boxes = append(boxes, models.BoundingBox{
				X:      p.Center.X,
				Y:      p.Center.Y,
				Width:  p.Width,
				Height: p.Height,
			})
		}
		maxConfidence = math.Max(maxConfidence, p.Confidence)
	}

	if totalArea == 0 {
		return result
	}

	result.Detected = true
	result.Area = totalArea
	result.Confidence = int(math.Round(maxConfidence * 100))
	result.Polygons = polygons

	if imageWidth > 0 && imageHeight > 0 {
		result.AreaPercentage = round2(totalArea / (imageWidth * imageHeight) * 100)
	}

	if box, ok := geometry.UnionBoundingBox(polygons, boxes); ok {
		result.BoundingBox = &box
	}

	return result
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
