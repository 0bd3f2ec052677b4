package githubapi

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// listedRepoCount is a Counter of repositories seen during enumeration
	listedRepoCount prometheus.Counter
	// listedPageCount is a Counter of listing pages fetched
	listedPageCount prometheus.Counter
	// rateLimitWaitSeconds is a Counter of total time spent suspended on
	// provider rate limits
	rateLimitWaitSeconds prometheus.Counter
)

// EnableMetrics will enable metrics collection for the listing client.
// Available metrics are...
//   - github_listed_repos_total
//     A Counter of repository objects returned by the listing endpoint.
//   - github_listed_pages_total
//     A Counter of listing pages fetched.
//   - github_rate_limit_wait_seconds_total
//     A Counter of seconds spent suspended waiting for rate limit reset.
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	listedRepoCount = promauto.With(registerer).NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "github_listed_repos_total",
		Help:      "Count of repository objects returned by the listing endpoint",
	})

	listedPageCount = promauto.With(registerer).NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "github_listed_pages_total",
		Help:      "Count of repository listing pages fetched",
	})

	rateLimitWaitSeconds = promauto.With(registerer).NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "github_rate_limit_wait_seconds_total",
		Help:      "Total seconds spent suspended waiting for rate limit reset",
	})
}

func recordListedPage(repoCount int) {
	// if metrics not enabled return
	if listedPageCount == nil {
		return
	}
	listedPageCount.Inc()
	listedRepoCount.Add(float64(repoCount))
}

func recordRateLimitWait(wait time.Duration) {
	// if metrics not enabled return
	if rateLimitWaitSeconds == nil {
		return
	}
	rateLimitWaitSeconds.Add(wait.Seconds())
}
