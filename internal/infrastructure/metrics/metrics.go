package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "iotrelay_"

// Result labels shared by the counters below.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "events_total",
			Help: "Inbound MQTT events by kind",
		},
		[]string{"kind"},
	)
	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "events_dropped_total",
			Help: "Inbound MQTT events dropped by reason",
		},
		[]string{"reason"},
	)
	bridgeDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "bridge_dropped_total",
			Help: "Work items rejected by the engine queue by reason",
		},
		[]string{"reason"},
	)
	bridgeDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: metricPrefix + "bridge_queue_depth",
			Help: "Work items waiting for the engine",
		},
	)
	ruleTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "rule_triggers_total",
			Help: "Rule matches by rule id",
		},
		[]string{"rule_id"},
	)
	actionExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "action_executions_total",
			Help: "Automation actions executed by kind and result",
		},
		[]string{"kind", "result"},
	)
	scheduledRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "scheduled_runs_total",
			Help: "Scheduled task runs by result",
		},
		[]string{"result"},
	)
	commandsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "commands_published_total",
			Help: "Device commands by source and result",
		},
		[]string{"source", "result"},
	)
	historyWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "history_writes_total",
			Help: "Telemetry rows flushed to SQLite by table and result",
		},
		[]string{"table", "result"},
	)
	devicesOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: metricPrefix + "devices_online",
			Help: "Devices seen within the presence TTL at last sample",
		},
	)
	httpRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "http_request_duration_seconds",
			Help:    "API request latency by route, method and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)
)

// Init registers all relay collectors with the default registry.
// Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			eventsTotal,
			eventsDropped,
			bridgeDropped,
			bridgeDepth,
			ruleTriggers,
			actionExecutions,
			scheduledRuns,
			commandsPublished,
			historyWrites,
			devicesOnline,
			httpRequests,
		)
	})
}

// IncEvent counts an inbound event ("status", "data", "alert", "system", "other").
func IncEvent(kind string) {
	eventsTotal.WithLabelValues(kind).Inc()
}

// IncEventDropped counts an inbound event that was discarded.
func IncEventDropped(reason string) {
	eventsDropped.WithLabelValues(reason).Inc()
}

// IncBridgeDropped counts work the engine queue refused ("closed", "full").
func IncBridgeDropped(reason string) {
	bridgeDropped.WithLabelValues(reason).Inc()
}

// SetBridgeDepth records the current engine queue length.
func SetBridgeDepth(n int) {
	bridgeDepth.Set(float64(n))
}

// IncRuleTrigger counts a rule match.
func IncRuleTrigger(ruleID string) {
	ruleTriggers.WithLabelValues(ruleID).Inc()
}

// IncActionExecution counts an executed action.
func IncActionExecution(kind, result string) {
	actionExecutions.WithLabelValues(kind, result).Inc()
}

// IncScheduledRun counts a scheduled task run.
func IncScheduledRun(result string) {
	scheduledRuns.WithLabelValues(result).Inc()
}

// IncCommandPublished counts a device command attempt.
func IncCommandPublished(source, result string) {
	commandsPublished.WithLabelValues(source, result).Inc()
}

// AddHistoryWrites counts flushed telemetry rows.
func AddHistoryWrites(table, result string, n int) {
	historyWrites.WithLabelValues(table, result).Add(float64(n))
}

// SetDevicesOnline records how many devices are currently online.
func SetDevicesOnline(n int) {
	devicesOnline.Set(float64(n))
}

// ObserveHTTPRequest records one API request. route is the matched route
// pattern, not the raw path, to keep label cardinality bounded.
func ObserveHTTPRequest(route, method string, status int, d time.Duration) {
	httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}
