package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manpower_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "manpower_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 任务状态机指标
var (
	// TaskTransitionsTotal 任务状态转换总数
	TaskTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manpower_task_transitions_total",
			Help: "任务状态转换总数",
		},
		[]string{"action", "status"},
	)

	// TaskTransitionConflictsTotal 乐观并发冲突次数
	TaskTransitionConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manpower_task_transition_conflicts_total",
			Help: "任务状态转换乐观锁冲突总数",
		},
		[]string{"action"},
	)
)

// 审计与还原指标
var (
	// AuditEntriesTotal 审计日志写入总数
	AuditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manpower_audit_entries_total",
			Help: "审计日志写入总数",
		},
		[]string{"action", "entity"},
	)

	// RestoresTotal 还原操作总数
	RestoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manpower_restores_total",
			Help: "删除数据还原操作总数",
		},
		[]string{"result"},
	)
)
