// Package metrics holds the Prometheus collectors shared by the CLI, the
// watcher and the status server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	hnapCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hnap_calls_total",
		Help: "Total HNAP calls by action and outcome.",
	}, []string{"action", "outcome"})

	hnapLoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hnap_logins_total",
		Help: "Total login handshakes by result.",
	}, []string{"result"})

	hnapReauthTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hnap_reauthentications_total",
		Help: "Total calls that hit an expired session and logged in again.",
	}, []string{"action"})

	hnapPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hnap_polls_total",
		Help: "Total sensor polls by result.",
	}, []string{"sensor", "result"})

	hnapSensorOn = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hnap_sensor_on",
		Help: "1 when the sensor is currently triggered.",
	}, []string{"sensor"})

	// HTTPRequestsTotal and HTTPRequestDuration are recorded by the status
	// server middleware.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hnap_http_requests_total",
		Help: "Total status API requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hnap_http_request_duration_seconds",
		Help:    "Status API request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RecordCall records the outcome of one hnap.Client call.
func RecordCall(action, outcome string) {
	hnapCallsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordLogin records a login handshake.
func RecordLogin(success bool) {
	if success {
		hnapLoginsTotal.WithLabelValues("success").Inc()
	} else {
		hnapLoginsTotal.WithLabelValues("failure").Inc()
	}
}

// RecordReauth records a call that forced a new handshake.
func RecordReauth(action string) {
	hnapReauthTotal.WithLabelValues(action).Inc()
}

// RecordPoll records a watcher poll.
func RecordPoll(sensor string, success bool) {
	if success {
		hnapPollsTotal.WithLabelValues(sensor, "success").Inc()
	} else {
		hnapPollsTotal.WithLabelValues(sensor, "failure").Inc()
	}
}

// SetSensorOn updates the sensor state gauge.
func SetSensorOn(sensor string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	hnapSensorOn.WithLabelValues(sensor).Set(v)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
