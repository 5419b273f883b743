package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	backendDurationHist     *prometheus.HistogramVec
	idempotencyCounter      *prometheus.CounterVec
	wizardTransitionCounter *prometheus.CounterVec
	wizardSubmitCounter     *prometheus.CounterVec
	activeSessionsGauge     prometheus.Gauge
	otpRequestCounter       *prometheus.CounterVec
	approvalDecisionCounter *prometheus.CounterVec
	approvalQueueGauge      *prometheus.GaugeVec
	eventPublishCounter     *prometheus.CounterVec
	workerRunCounter        *prometheus.CounterVec
	cancellationCounter     *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status", "replayed"})

		backendDurationHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backend_request_duration_seconds",
			Help:    "Core-banking backend call latency by outcome",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "outcome"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		wizardTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizard_step_transitions_total",
			Help: "Wizard step transitions by transaction type",
		}, []string{"type", "from", "to"})

		wizardSubmitCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizard_submissions_total",
			Help: "Wizard submission outcomes",
		}, []string{"type", "mode", "result"})

		activeSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wizard_active_sessions",
			Help: "Current number of open wizard sessions",
		})

		otpRequestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otp_requests_total",
			Help: "OTP request and resend outcomes",
		}, []string{"kind", "result"})

		approvalDecisionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approval_decisions_total",
			Help: "Approval workflow decisions",
		}, []string{"action", "role", "result"})

		approvalQueueGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "approval_queue_size",
			Help: "Workflows waiting for action by status",
		}, []string{"status"})

		eventPublishCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_events_published_total",
			Help: "Workflow event publish outcomes",
		}, []string{"topic", "result"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		cancellationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transaction_cancellations_total",
			Help: "Customer cancellation outcomes by transaction type",
		}, []string{"type", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			backendDurationHist,
			idempotencyCounter,
			wizardTransitionCounter,
			wizardSubmitCounter,
			activeSessionsGauge,
			otpRequestCounter,
			approvalDecisionCounter,
			approvalQueueGauge,
			eventPublishCounter,
			workerRunCounter,
			cancellationCounter,
		)
	})
}

func ObserveHTTP(method, route string, status int, replayed bool, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, route, strconv.Itoa(status), strconv.FormatBool(replayed)).Observe(duration.Seconds())
}

func ObserveBackendCall(method, route, outcome string, duration time.Duration) {
	if backendDurationHist == nil {
		return
	}
	backendDurationHist.WithLabelValues(method, route, outcome).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWizardTransition(txType, from, to string) {
	if wizardTransitionCounter == nil {
		return
	}
	wizardTransitionCounter.WithLabelValues(txType, from, to).Inc()
}

func IncrementWizardSubmit(txType, mode, result string) {
	if wizardSubmitCounter == nil {
		return
	}
	wizardSubmitCounter.WithLabelValues(txType, mode, result).Inc()
}

func SetActiveSessions(n int) {
	if activeSessionsGauge == nil {
		return
	}
	activeSessionsGauge.Set(float64(n))
}

func IncrementOTPRequest(kind, result string) {
	if otpRequestCounter == nil {
		return
	}
	otpRequestCounter.WithLabelValues(kind, result).Inc()
}

func IncrementApprovalDecision(action, role, result string) {
	if approvalDecisionCounter == nil {
		return
	}
	approvalDecisionCounter.WithLabelValues(action, role, result).Inc()
}

func SetApprovalQueueSize(status string, size int64) {
	if approvalQueueGauge == nil {
		return
	}
	approvalQueueGauge.WithLabelValues(status).Set(float64(size))
}

func IncrementEventPublish(topic, result string) {
	if eventPublishCounter == nil {
		return
	}
	eventPublishCounter.WithLabelValues(topic, result).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementCancellation(txType, result string) {
	if cancellationCounter == nil {
		return
	}
	cancellationCounter.WithLabelValues(txType, result).Inc()
}
