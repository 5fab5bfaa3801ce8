package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("inspect", "GET", "health", 200, 12*time.Millisecond)
	RecordInvocation("untyped_retype", nil)
	RecordInvocation("untyped_retype", errors.New("rejected"))
	RecordObjectCreated("tcb")
	RecordPhase("create", time.Millisecond, true)
	RecordFillBytes("bytes", 4096)
	RecordUntyped(1<<20, 1<<12, 1<<20-1<<12)

	if got := testutil.ToFloat64(kernelInvocations.WithLabelValues("untyped_retype", "false")); got < 1 {
		t.Fatalf("expected a failed invocation to be counted, got %v", got)
	}
	if got := testutil.ToFloat64(untypedBytes.WithLabelValues("used")); got != 1<<12 {
		t.Fatalf("unexpected used gauge: %v", got)
	}
}
