package observability

import (
	"testing"
	"time"

	"github.com/danmuck/dbgwire/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("admin", "GET", "/health", 200, 12*time.Millisecond)
	RecordPacket("s-metrics", DirectionOut, KindCommand)
	RecordCommand("s-metrics", "1.9", 3*time.Millisecond, 13)
	SetPendingRequests("s-metrics", 2)
	RecordFlowControl("s-metrics", "hold")
	RecordDisposed("s-metrics", 51)

	if got := testutil.ToFloat64(disposedIDs.WithLabelValues("s-metrics")); got != 51 {
		t.Fatalf("disposed ids got=%v want=51", got)
	}
	if got := testutil.ToFloat64(remoteErrors.WithLabelValues("s-metrics", "13")); got != 1 {
		t.Fatalf("remote errors got=%v want=1", got)
	}
	if got := testutil.ToFloat64(pendingRequests.WithLabelValues("s-metrics")); got != 2 {
		t.Fatalf("pending gauge got=%v want=2", got)
	}
}
