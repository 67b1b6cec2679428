package geometry

import (
	"math"

	"github.com/scalpsense/scalp-cv/server/models"
)

// PolygonArea computes the absolute area of a simple polygon via the Shoelace
// formula. Vertex winding does not matter. Fewer than 3 vertices yield 0.
// Self-intersecting polygons are a known limitation and produce an
// undefined result.
func PolygonArea(points []models.Point) float64 {
	n := len(points)
	if n < 3 {
		return 0
	}

	sum := 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += points[i].X*points[j].Y - points[j].X*points[i].Y
	}

	return math.Abs(sum) / 2
}

// BoxArea computes width*height, treating negative extents as 0.
func BoxArea(width, height float64) float64 {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return width * height
}

// UnionBoundingBox computes the center-based box covering every vertex of
// every polygon and every corner of every center-based box. The second return
// value is false when no geometry was supplied.
func UnionBoundingBox(polygons [][]models.Point, boxes []models.BoundingBox) (models.BoundingBox, bool) {
	minX := math.Inf(1)
	minY := math.Inf(1)
	maxX := math.Inf(-1)
	maxY := math.Inf(-1)
	found := false

	for _, poly := range polygons {
		for _, p := range poly {
			minX = math.Min(minX, p.X)
			minY = math.Min(minY, p.Y)
			maxX = math.Max(maxX, p.X)
			maxY = math.Max(maxY, p.Y)
			found = true
		}
	}

	for _, b := range boxes {
		halfW := b.Width / 2
		halfH := b.Height / 2
		minX = math.Min(minX, b.X-halfW)
		minY = math.Min(minY, b.Y-halfH)
		maxX = math.Max(maxX, b.X+halfW)
		maxY = math.Max(maxY, b.Y+halfH)
		found = true
	}

	if !found {
		return models.BoundingBox{}, false
	}

	return models.BoundingBox{
		X:      (minX + maxX) / 2,
		Y:      (minY + maxY) / 2,
		Width:  maxX - minX,
		Height: maxY - minY,
	}, true
}
