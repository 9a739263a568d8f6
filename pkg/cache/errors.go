package cache

import "github.com/personalpipeline/personal-pipeline/internal/perrors"

// ErrNotFound is returned by a tier's Get when the key is absent.
var ErrNotFound = perrors.NotFound("cache entry not found")

// ErrDisabled is returned when an operation targets a tier that the
// configured Strategy does not use.
var ErrDisabled = perrors.Config("cache tier disabled by strategy")
