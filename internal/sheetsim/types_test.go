package sheetsim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobStatusCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusQueued, JobStatusQueued, true},
		{JobStatusQueued, JobStatusProcessing, true},
		{JobStatusQueued, JobStatusFailed, true},
		{JobStatusQueued, JobStatusCompleted, false},
		{JobStatusProcessing, JobStatusProcessing, true},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusQueued, false},
		{JobStatusCompleted, JobStatusProcessing, false},
		{JobStatusCompleted, JobStatusCompleted, false},
		{JobStatusFailed, JobStatusCompleted, false},
		{JobStatusQueued, JobStatus("paused"), false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestJobCloneDetachesPointers(t *testing.T) {
	t.Parallel()

	job := Job{
		ID:       "abc",
		Progress: &Progress{Stage: StageProcessing, Current: 1},
		Result:   &Result{Status: ResultComplete, Processed: 2},
	}
	clone := job.Clone()
	clone.Progress.Current = 5
	clone.Result.Processed = 9

	require.Equal(t, 1, job.Progress.Current)
	require.Equal(t, 2, job.Result.Processed)
}
