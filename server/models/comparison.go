package models

// Point is a single coordinate in source-image pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BoundingBox is an axis-aligned box in center-based coordinates: X,Y is the
// box center, Width and Height its full extents.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Prediction is one detected region as reported by the external detector.
// Exactly one geometry representation is populated: either Points holds the
// polygon vertices in boundary order, or Center/Width/Height describe a box.
// A Prediction is never mutated after creation.
type Prediction struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Points     []Point `json:"points,omitempty"`
	Center     *Point  `json:"center,omitempty"`
	Width      float64 `json:"width,omitempty"`
	Height     float64 `json:"height,omitempty"`
}

// HasPolygon reports whether the prediction carries polygon geometry.
func (p *Prediction) HasPolygon() bool {
	return len(p.Points) > 0
}

// AggregatedResult is the normalized coverage metric derived from all
// predictions that survived the confidence descent for one image.
type AggregatedResult struct {
	Detected       bool         `json:"detected"`
	Area           float64      `json:"area"`
	AreaPercentage float64      `json:"areaPercentage"`
	ImageWidth     float64      `json:"imageWidth"`
	ImageHeight    float64      `json:"imageHeight"`
	Confidence     int          `json:"confidence"`
	BoundingBox    *BoundingBox `json:"boundingBox,omitempty"`
	Polygons       [][]Point    `json:"polygons,omitempty"`
	MaskImage      string       `json:"maskImage,omitempty"`
}

// ComparisonResult pairs the before and after aggregations of one request.
type ComparisonResult struct {
	Before *AggregatedResult `json:"before"`
	After  *AggregatedResult `json:"after"`
}

// CompareRequest carries the raw bytes of the two photographs to compare.
type CompareRequest struct {
	Before []byte
	After  []byte
}
