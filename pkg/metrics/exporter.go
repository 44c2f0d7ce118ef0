package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(
		EventsAdded, EventsExpired, EventsTrimmed,
		Events, EventsExpiring, EventsExpiredCount,
		SegmentsAdded, SegmentsExpired, SegmentsTrimmed,
		Segments, SegmentsExpiring, SegmentsExpiredGauge,
		ExpirePos, WritePos, ReadPos, JournalLatency,
		LeaderElectionTotal, WriterFenced,
	)
}

// StartMetricsServer serves /metrics on port in the background.
func StartMetricsServer(port int) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		fmt.Println("[METRICS] Prometheus exporter listening on", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			fmt.Printf("[METRICS] Failed to start metrics server: %v\n", err)
		}
	}()
}
