package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "housingworkshop"

var (
	// HTTPRequestsTotal HTTP 请求计数（按路由模板、方法、状态码）。
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests handled, by route, method and status.",
	}, []string{"route", "method", "status"})

	// HTTPRequestDuration HTTP 请求耗时。
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	// RateLimitRejectedTotal 限流拒绝次数（按规则名）。
	RateLimitRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejected_total",
		Help:      "Requests rejected by a rate limit rule.",
	}, []string{"rule"})

	// RateLimitEntries 内存限流器当前条目数。
	RateLimitEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rate_limit_entries",
		Help:      "Live entries held by the in-memory rate limiter.",
	})

	SignupsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signups_total",
		Help:      "Successful signups (new or repeated).",
	})

	// LoginsTotal 登录结果计数: success / invalid / error。
	LoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Login attempts by result.",
	}, []string{"kind", "result"})

	ProgressCompletionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "progress_completions_total",
		Help:      "Module completion upserts.",
	})

	// EmailsTotal 邮件发送结果: sent / skipped / failed / deduplicated。
	EmailsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "emails_total",
		Help:      "Access emails by outcome.",
	}, []string{"result"})

	// QueueJobsTotal 后台任务结果: succeeded / failed / dropped / panic。
	QueueJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_jobs_total",
		Help:      "Background jobs by outcome.",
	}, []string{"result"})
)

var registerOnce sync.Once

// InitMetrics 将所有指标注册到默认 Registry，重复调用是安全的。
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			RateLimitRejectedTotal,
			RateLimitEntries,
			SignupsTotal,
			LoginsTotal,
			ProgressCompletionsTotal,
			EmailsTotal,
			QueueJobsTotal,
		)
	})
}
