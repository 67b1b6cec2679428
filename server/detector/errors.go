package detector

import "errors"

var (
	// ErrDetectorUnavailable indicates a non-success HTTP status from the
	// external detection service.
	ErrDetectorUnavailable = errors.New("detector service unavailable")

	// ErrMalformedResponse indicates the detector returned a body that could
	// not be parsed as JSON.
	ErrMalformedResponse = errors.New("detector response malformed")
)
