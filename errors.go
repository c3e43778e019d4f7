package gantry

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("gantry: no store configured")
	ErrStoreClosed = errors.New("gantry: store closed")

	// Not found errors.
	ErrJobNotFound    = errors.New("gantry: job not found")
	ErrWorkerNotFound = errors.New("gantry: worker not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("gantry: job already exists")
	ErrJobNotLeased     = errors.New("gantry: job is not leased")

	// Configuration errors.
	ErrInvalidConfig = errors.New("gantry: invalid configuration")
)
