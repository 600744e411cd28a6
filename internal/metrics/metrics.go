// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocket connections
	WSConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Current number of registered WebSocket connections",
		},
		[]string{"type"},
	)

	WSConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_connections_total",
			Help: "Total number of WebSocket connections registered",
		},
		[]string{"type"},
	)

	WSAuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_auth_failures_total",
			Help: "Total number of WebSocket handshakes refused for authentication",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_messages_sent_total",
			Help: "Total number of messages queued to WebSocket connections",
		},
	)

	WSDeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_delivery_failures_total",
			Help: "Total number of deliveries that failed and disconnected the peer",
		},
	)

	WSInboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_inbound_messages_total",
			Help: "Total number of inbound WebSocket messages by decoded type",
		},
		[]string{"type"},
	)

	// Task progress
	ProgressUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_progress_updates_total",
			Help: "Total number of accepted task progress updates by status",
		},
		[]string{"status"},
	)

	ProgressRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "task_progress_rejected_total",
			Help: "Total number of progress updates rejected by the forward-only status rule",
		},
	)

	ProgressRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "task_progress_records",
			Help: "Current number of progress records held in memory",
		},
	)

	ProgressEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "task_progress_evicted_total",
			Help: "Total number of terminal progress records evicted",
		},
	)

	// Video generation
	VideoTasksSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "video_tasks_submitted_total",
			Help: "Total number of video generation tasks submitted",
		},
	)

	VideoTasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_tasks_finished_total",
			Help: "Total number of video generation tasks finished by outcome",
		},
		[]string{"outcome"},
	)

	// Worker pool
	WorkerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Number of jobs waiting in the worker pool queue",
		},
	)

	WorkerJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_total",
			Help: "Total number of worker pool jobs by result",
		},
		[]string{"result"},
	)

	// Uploads
	ImagesUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "character_images_uploaded_total",
			Help: "Total number of character image uploads by result",
		},
		[]string{"result"},
	)
)
