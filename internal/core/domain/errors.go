package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks invalid alpha/k/threshold values. Rejected at
	// construction, never silently clamped.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrEvidenceGap means retrieval produced no candidates for the query.
	ErrEvidenceGap = errors.New("no evidence found")
	// ErrStageTimeout means a pipeline stage exceeded its deadline.
	ErrStageTimeout = errors.New("stage timeout")
	// ErrChunkNotFound is returned by stores for unknown chunk ids.
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrRefinementDegraded marks a refinement strategy failure that was
	// absorbed by keeping the fused ranking. A warning, never fatal.
	ErrRefinementDegraded = errors.New("refinement degraded")
	ErrInvalidInput       = errors.New("invalid input")
	ErrTemporary          = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
