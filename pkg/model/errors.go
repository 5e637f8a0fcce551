package model

import "errors"

var (
	// ErrLoad is returned when an artifact or its backend files cannot be
	// loaded, or when the artifact was built for a different front-end.
	ErrLoad = errors.New("model: load failed")

	// ErrShapeMismatch is returned when the feature window shape disagrees
	// with the artifact's declared input shape.
	ErrShapeMismatch = errors.New("model: feature shape mismatch")
)
