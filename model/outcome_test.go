package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOutcomeLine(t *testing.T) {
	when := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	o := Outcome{Subject: "100_V1_MR", Status: StatusCompleted, Time: when}
	require.Equal(t, "2026-03-01 10:30:00: Successfully processed 100_V1_MR", o.Line())

	o = Outcome{Subject: "200_V1_MR", Status: StatusFailed, Cause: CauseVerificationFailure, Time: when}
	require.Equal(t, "2026-03-01 10:30:00: Failed to process (verification failure) 200_V1_MR", o.Line())

	o = Outcome{Subject: "300_V1_MR", Status: StatusFailed, Time: when}
	require.Equal(t, "2026-03-01 10:30:00: Failed to process 300_V1_MR", o.Line())
}

func TestBatchIDs(t *testing.T) {
	b := Batch{Index: 1, Subjects: []Subject{
		{Token: "100", ID: "100_V1_MR", Name: "100"},
		{Token: "200", ID: "200_V1_MR", Name: "200"},
	}}
	require.Equal(t, 2, b.Size())
	require.Equal(t, []string{"100_V1_MR", "200_V1_MR"}, b.IDs())
}
