// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tether

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	metricNamespace = "tether"
	metricSubsystem = "client"
)

// clientMetrics record client activity. They are registered with the default
// Prometheus registry, and are shared by all clients in the process.
var clientMetrics = struct {
	messageSent     metrics.Counter   // by channel: request, control
	messageRecv     metrics.Counter   // by channel: reply, telemetry
	messageDropped  metrics.Counter   // by reason
	callOut         metrics.Counter   // outbound calls initiated
	callOutErr      metrics.Counter   // outbound calls reporting an error
	callTimeout     metrics.Counter   // outbound calls that timed out
	callPending     metrics.Gauge     // outbound calls awaiting a reply
	queueDepth      metrics.Gauge     // tickets held or waiting in request queues
	requestDuration metrics.Histogram // by key and success
	stateChange     metrics.Counter   // by new state
}{
	messageSent: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: metricNamespace,
		Subsystem: metricSubsystem,
		Name:      "messages_sent_total",
		Help:      "Number of messages sent to the vehicle.",
	}, []string{"channel"}),
	messageRecv: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: metricNamespace,
		Subsystem: metricSubsystem,
		Name:      "messages_received_total",
		Help:      "Number of messages received from the vehicle.",
	}, []string{"channel"}),
	messageDropped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: metricNamespace,
		Subsystem: metricSubsystem,
		Name:      "messages_dropped_total",
		Help:      "Number of received messages discarded without delivery.",
	}, []string{"reason"}),
	callOut: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: metricNamespace,
		Subsystem: metricSubsystem,
		Name:      "calls_total",
		Help:      "Number of request/reply exchanges initiated.",
	}, nil),
	callOutErr: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: metricNamespace,
		Subsystem: metricSubsystem,
		Name:      "calls_failed_total",
		Help:      "Number of request/reply exchanges that reported an error.",
	}, nil),
	callTimeout: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: metricNamespace,
		Subsystem: metricSubsystem,
		Name:      "calls_timed_out_total",
		Help:      "Number of request/reply exchanges that timed out.",
	}, nil),
	callPending: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: metricNamespace,
		Subsystem: metricSubsystem,
		Name:      "calls_pending",
		Help:      "Number of requests sent and awaiting a reply.",
	}, nil),
	queueDepth: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: metricNamespace,
		Subsystem: metricSubsystem,
		Name:      "queue_depth",
		Help:      "Number of tasks holding or waiting for a request queue.",
	}, nil),
	requestDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: metricNamespace,
		Subsystem: metricSubsystem,
		Name:      "request_duration_seconds",
		Help:      "Request/reply exchange duration in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{"key", "success"}),
	stateChange: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: metricNamespace,
		Subsystem: metricSubsystem,
		Name:      "state_changes_total",
		Help:      "Number of session state transitions.",
	}, []string{"state"}),
}
