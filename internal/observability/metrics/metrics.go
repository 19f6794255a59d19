package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mfa_verifications_total",
			Help: "Total number of second-factor verification attempts.",
		},
		[]string{"service", "flow", "result"},
	)

	ChallengesIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mfa_challenges_issued_total",
			Help: "Total number of passkey challenges issued.",
		},
		[]string{"service", "kind"},
	)

	LockoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mfa_lockouts_total",
			Help: "Total number of account lockouts armed.",
		},
		[]string{"service", "flow"},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mfa_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter.",
		},
		[]string{"service", "action"},
	)

	AuthenticationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mfa_caller_auth_attempts_total",
			Help: "Total number of caller-token validations.",
		},
		[]string{"service", "method", "result"},
	)
)

func MustRegister(serviceName string) {
	HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(prometheus.Labels{"service": serviceName}).(*prometheus.HistogramVec)
	VerificationsTotal = VerificationsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	ChallengesIssuedTotal = ChallengesIssuedTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	LockoutsTotal = LockoutsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	RateLimitedTotal = RateLimitedTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	AuthenticationAttemptsTotal = AuthenticationAttemptsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		VerificationsTotal,
		ChallengesIssuedTotal,
		LockoutsTotal,
		RateLimitedTotal,
		AuthenticationAttemptsTotal,
	)
}
