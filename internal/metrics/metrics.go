package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks read from sources"},
		[]string{"leg"},
	)
	BarsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bars_total", Help: "Resampled bars emitted"},
	)
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trades_total", Help: "Trades recorded by the ledger"},
		[]string{"action", "side"},
	)
	FundingFetchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "funding_fetches_total", Help: "Upstream funding-rate fetches issued"},
	)
	FundingCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "funding_cache_hits_total", Help: "Funding lookups served from cache"},
	)
	DaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "days_total", Help: "Simulated days finished"},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, BarsTotal, TradesTotal, FundingFetchesTotal, FundingCacheHitsTotal, DaysTotal)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
