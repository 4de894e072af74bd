package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dbgwire"

// Packet directions and kinds used as label values.
const (
	DirectionIn  = "in"
	DirectionOut = "out"

	KindCommand = "command"
	KindReply   = "reply"
	KindEvent   = "event"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"session", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"session", "method", "path", "status"},
	)
	packets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "packets_total",
			Help:      "Packets written to or read from the target.",
		},
		[]string{"session", "direction", "kind"},
	)
	unmatchedReplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "unmatched_replies_total",
			Help:      "Replies whose id matched no pending request.",
		},
		[]string{"session"},
	)
	droppedPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "dropped_packets_total",
			Help:      "Inbound packets dropped as protocol errors.",
		},
		[]string{"session", "reason"},
	)
	pendingRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "pending_requests",
			Help:      "Commands written and awaiting a reply.",
		},
		[]string{"session"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "command_duration_seconds",
			Help:      "Command round trip in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"session", "command"},
	)
	remoteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "remote_errors_total",
			Help:      "Replies carrying a nonzero error code.",
		},
		[]string{"session", "code"},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "queue_max_depth",
			Help:      "Deepest event queue depth across consumers.",
		},
		[]string{"session"},
	)
	flowControl = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "flow_control_total",
			Help:      "HoldEvents/ReleaseEvents commands sent.",
		},
		[]string{"session", "action"},
	)
	autoResumes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "auto_resumes_total",
			Help:      "Event sets resumed because no client request claimed them.",
		},
		[]string{"session", "policy"},
	)
	decodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "decode_failures_total",
			Help:      "Event sets that failed to decode.",
		},
		[]string{"session"},
	)
	disposedIDs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "disposed_ids_total",
			Help:      "Remote ids released through DisposeObjects.",
		},
		[]string{"session"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			packets, unmatchedReplies, droppedPackets,
			pendingRequests, commandDuration, remoteErrors,
			queueDepth, flowControl, autoResumes, decodeFailures,
			disposedIDs,
		)
	})
}

func RecordHTTPRequest(session, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(session, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(session, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordPacket(session, direction, kind string) {
	RegisterMetrics()
	packets.WithLabelValues(session, direction, kind).Inc()
}

func RecordUnmatchedReply(session string) {
	RegisterMetrics()
	unmatchedReplies.WithLabelValues(session).Inc()
}

func RecordDroppedPacket(session, reason string) {
	RegisterMetrics()
	droppedPackets.WithLabelValues(session, reason).Inc()
}

func SetPendingRequests(session string, n int) {
	RegisterMetrics()
	pendingRequests.WithLabelValues(session).Set(float64(n))
}

func RecordCommand(session, command string, duration time.Duration, errorCode uint16) {
	RegisterMetrics()
	commandDuration.WithLabelValues(session, command).Observe(duration.Seconds())
	if errorCode != 0 {
		remoteErrors.WithLabelValues(session, strconv.Itoa(int(errorCode))).Inc()
	}
}

func SetQueueDepth(session string, depth int) {
	RegisterMetrics()
	queueDepth.WithLabelValues(session).Set(float64(depth))
}

func RecordFlowControl(session, action string) {
	RegisterMetrics()
	flowControl.WithLabelValues(session, action).Inc()
}

func RecordAutoResume(session, policy string) {
	RegisterMetrics()
	autoResumes.WithLabelValues(session, policy).Inc()
}

func RecordDecodeFailure(session string) {
	RegisterMetrics()
	decodeFailures.WithLabelValues(session).Inc()
}

func RecordDisposed(session string, n int) {
	RegisterMetrics()
	disposedIDs.WithLabelValues(session).Add(float64(n))
}
