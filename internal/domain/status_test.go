package domain

import (
	"errors"
	"testing"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want RunStatus
	}{
		{in: "RequestSubmitted", want: StatusRequestSubmitted},
		{in: "enrichingdataset", want: StatusEnrichingDataset},
		{in: "  DATASETENRICHMENTCOMPLETED ", want: StatusDatasetEnrichmentCompleted},
		{in: "evalRunStarted", want: StatusEvalRunStarted},
		{in: "EvalRunCompleted", want: StatusEvalRunCompleted},
		{in: "evalrunfailed", want: StatusEvalRunFailed},
	}
	for _, tc := range tests {
		got, err := NormalizeStatus(tc.in)
		if err != nil {
			t.Fatalf("NormalizeStatus(%q) err=%v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeStatus(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := NormalizeStatus("Completed"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := NormalizeStatus(""); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus for empty status, got %v", err)
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name        string
		current     RunStatus
		requested   RunStatus
		want        RunStatus
		wantChanged bool
		wantErr     error
	}{
		{name: "forward one step", current: StatusRequestSubmitted, requested: StatusEnrichingDataset, want: StatusEnrichingDataset, wantChanged: true},
		{name: "forward skipping", current: StatusRequestSubmitted, requested: StatusDatasetEnrichmentCompleted, want: StatusDatasetEnrichmentCompleted, wantChanged: true},
		{name: "started to completed", current: StatusEvalRunStarted, requested: StatusEvalRunCompleted, want: StatusEvalRunCompleted, wantChanged: true},
		{name: "same status is a no-op", current: StatusEnrichingDataset, requested: StatusEnrichingDataset, want: StatusEnrichingDataset},
		{name: "backwards rejected", current: StatusDatasetEnrichmentCompleted, requested: StatusEnrichingDataset, want: StatusDatasetEnrichmentCompleted, wantErr: ErrInvalidTransition},
		{name: "fail from non-terminal", current: StatusEnrichingDataset, requested: StatusEvalRunFailed, want: StatusEvalRunFailed, wantChanged: true},
		{name: "fail again is idempotent", current: StatusEvalRunFailed, requested: StatusEvalRunFailed, want: StatusEvalRunFailed},
		{name: "fail after completed", current: StatusEvalRunCompleted, requested: StatusEvalRunFailed, want: StatusEvalRunFailed, wantChanged: true},
		{name: "nothing leaves failed", current: StatusEvalRunFailed, requested: StatusEvalRunCompleted, want: StatusEvalRunFailed, wantErr: ErrInvalidTransition},
		{name: "nothing restarts completed", current: StatusEvalRunCompleted, requested: StatusEvalRunStarted, want: StatusEvalRunCompleted, wantErr: ErrInvalidTransition},
		{name: "unknown requested", current: StatusRequestSubmitted, requested: RunStatus("Bogus"), want: StatusRequestSubmitted, wantErr: ErrInvalidStatus},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, changed, err := Transition(tc.current, tc.requested)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err=%v, want %v", err, tc.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if got != tc.want {
				t.Fatalf("status=%s, want %s", got, tc.want)
			}
			if changed != tc.wantChanged {
				t.Fatalf("changed=%v, want %v", changed, tc.wantChanged)
			}
		})
	}
}

func TestForwardChainAlwaysAccepted(t *testing.T) {
	chain := []RunStatus{
		StatusEnrichingDataset,
		StatusDatasetEnrichmentCompleted,
		StatusEvalRunStarted,
		StatusEvalRunCompleted,
	}
	current := StatusRequestSubmitted
	for _, next := range chain {
		got, changed, err := Transition(current, next)
		if err != nil || !changed {
			t.Fatalf("%s -> %s rejected: changed=%v err=%v", current, next, changed, err)
		}
		current = got
	}
	if !current.IsTerminal() {
		t.Fatalf("expected terminal status, got %s", current)
	}
}
