package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCountsDecisions(t *testing.T) {
	r := NewRecorder()
	before := testutil.ToFloat64(RateLimitDecisionsTotal.WithLabelValues("tier", "rejected"))
	r.ObserveDecision("tier", false)
	assert.Equal(t, before+1, testutil.ToFloat64(RateLimitDecisionsTotal.WithLabelValues("tier", "rejected")))

	r.ObserveFailOpen("global")
	assert.GreaterOrEqual(t, testutil.ToFloat64(RateLimitFailOpenTotal.WithLabelValues("global")), 1.0)
}

func TestRecorderProviderHealth(t *testing.T) {
	r := NewRecorder()
	r.ObserveProviderHealth("echo", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(ProviderHealth.WithLabelValues("echo")))
	r.ObserveProviderHealth("echo", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(ProviderHealth.WithLabelValues("echo")))

	r.ObserveCompletion("echo", "batch", "ok", 250*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.ToFloat64(AICompletionsTotal.WithLabelValues("echo", "batch", "ok")), 1.0)
}
