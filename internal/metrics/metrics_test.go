package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncBackend("availability", "ok")
		IncGrid("degraded")
		IncReservation("conflict")
		IncResolver("venue")
		IncHTTP("/api/v1/sessions")
	})
}

func TestAddConflicts(t *testing.T) {
	before := testutil.ToFloat64(conflictingSlots)
	AddConflicts(2)
	AddConflicts(0)
	AddConflicts(-1)
	assert.Equal(t, before+2, testutil.ToFloat64(conflictingSlots))
}
