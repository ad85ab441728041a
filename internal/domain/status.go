package domain

import (
	"fmt"
	"strings"
)

// RunStatus is the lifecycle state of an evaluation run.
type RunStatus string

const (
	StatusRequestSubmitted           RunStatus = "RequestSubmitted"
	StatusEnrichingDataset           RunStatus = "EnrichingDataset"
	StatusDatasetEnrichmentCompleted RunStatus = "DatasetEnrichmentCompleted"
	StatusEvalRunStarted             RunStatus = "EvalRunStarted"
	StatusEvalRunCompleted           RunStatus = "EvalRunCompleted"
	StatusEvalRunFailed              RunStatus = "EvalRunFailed"
)

var knownStatuses = []RunStatus{
	StatusRequestSubmitted,
	StatusEnrichingDataset,
	StatusDatasetEnrichmentCompleted,
	StatusEvalRunStarted,
	StatusEvalRunCompleted,
	StatusEvalRunFailed,
}

// NormalizeStatus maps a free-form status value onto the canonical enum.
// Matching is case-insensitive and ignores surrounding whitespace.
func NormalizeStatus(value string) (RunStatus, error) {
	trimmed := strings.TrimSpace(value)
	for _, status := range knownStatuses {
		if strings.EqualFold(trimmed, string(status)) {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
}

// IsTerminal reports whether no forward progress follows the status.
func (s RunStatus) IsTerminal() bool {
	return s == StatusEvalRunCompleted || s == StatusEvalRunFailed
}

func (s RunStatus) String() string {
	return string(s)
}

func statusOrder(status RunStatus) int {
	switch status {
	case StatusRequestSubmitted:
		return 1
	case StatusEnrichingDataset:
		return 2
	case StatusDatasetEnrichmentCompleted:
		return 3
	case StatusEvalRunStarted:
		return 4
	case StatusEvalRunCompleted, StatusEvalRunFailed:
		return 5
	default:
		return 0
	}
}

// Transition evaluates a requested status change against the run state machine.
//
// The returned bool is false when the request leaves the run unchanged
// (same status requested again). Failure is accepted from every state so
// that failure reports stay idempotent; everything else moves forward only
// and never leaves a terminal state.
func Transition(current, requested RunStatus) (RunStatus, bool, error) {
	if statusOrder(requested) == 0 {
		return current, false, fmt.Errorf("%w: %q", ErrInvalidStatus, requested)
	}
	if statusOrder(current) == 0 {
		return current, false, fmt.Errorf("%w: current status %q is unknown", ErrInvalidTransition, current)
	}
	if current == requested {
		return current, false, nil
	}
	if requested == StatusEvalRunFailed {
		return requested, true, nil
	}
	if current.IsTerminal() {
		return current, false, fmt.Errorf("%w: run is already %s", ErrInvalidTransition, current)
	}
	if statusOrder(requested) < statusOrder(current) {
		return current, false, fmt.Errorf("%w: %s cannot follow %s", ErrInvalidTransition, requested, current)
	}
	return requested, true, nil
}
