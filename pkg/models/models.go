// Package models holds the DTOs shared across the identity, contact-list,
// account-manager, conversation and sync components, plus the ambient
// telemetry snapshot types exported to the embedding application.
package models

import "time"

type NetworkStatus struct {
	Status    string    `json:"status"`
	PeerCount int       `json:"peer_count"`
	LastSync  time.Time `json:"last_sync"`
}

type MetricsSnapshot struct {
	PeerCount           int                        `json:"peer_count"`
	PendingQueueSize    int                        `json:"pending_queue_size"`
	ErrorCounters       map[string]int             `json:"error_counters"`
	NetworkMetrics      map[string]int             `json:"network_metrics"`
	OperationStats      map[string]OperationMetric `json:"operation_stats"`
	RetryAttemptsTotal  int                        `json:"retry_attempts_total"`
	LastUpdatedAt       time.Time                  `json:"last_updated_at"`
	NotificationBacklog int                        `json:"notification_backlog"`
}

type OperationMetric struct {
	Count         int   `json:"count"`
	Errors        int   `json:"errors"`
	AvgLatencyMs  int64 `json:"avg_latency_ms"`
	MaxLatencyMs  int64 `json:"max_latency_ms"`
	LastLatencyMs int64 `json:"last_latency_ms"`
}

type MessageStatus struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}
