package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// MQ 消息处理结果
	MQMessagesHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_messages_handled_total",
			Help: "Total number of MQ messages handled, by outcome",
		},
		[]string{"routing_key", "outcome"}, // outcome: ack, requeue, dlq, duplicate
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 通知写入计数
	NotificationsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_emitted_total",
			Help: "Total number of notifications persisted and published",
		},
		[]string{"type"},
	)

	// 标记已读的通知数
	NotificationsMarkedRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_marked_read_total",
			Help: "Total number of notifications transitioned to read",
		},
	)

	// 当前在线订阅者
	BrokerSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_subscribers",
			Help: "Number of live broker subscriptions",
		},
	)

	BrokerEventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_events_published_total",
			Help: "Total number of events published to the in-process broker",
		},
	)

	// 订阅缓冲区溢出
	BrokerEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_events_dropped_total",
			Help: "Total number of events dropped because a subscriber buffer was full",
		},
		[]string{"policy"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// IncrementMQHandled 记录 MQ 消息处理结果
func IncrementMQHandled(routingKey, outcome string) {
	MQMessagesHandled.WithLabelValues(routingKey, outcome).Inc()
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询，statement 只取 SQL 的第一个关键字避免高基数
func IncrementSlowQuery(statement string) {
	SlowQueryCount.WithLabelValues(statement).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementNotificationsEmitted 增加通知写入计数
func IncrementNotificationsEmitted(notificationType string) {
	if notificationType == "" {
		notificationType = "none"
	}
	NotificationsEmitted.WithLabelValues(notificationType).Inc()
}

func AddNotificationsMarkedRead(n int64) {
	if n > 0 {
		NotificationsMarkedRead.Add(float64(n))
	}
}

func IncrementBrokerDropped(policy string) {
	BrokerEventsDropped.WithLabelValues(policy).Inc()
}
