package metrics

import "github.com/prometheus/client_golang/prometheus"

// Writer-lease metrics: how often leadership changed hands, and how often
// the local writer was fenced off by a newer lease holder.
var (
	LeaderElectionTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mdlog_lease_elections_total",
		Help: "Total number of writer-lease leadership changes observed",
	})

	WriterFenced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mdlog_lease_fenced_total",
		Help: "Total number of times this node's writer lease was fenced",
	})
)
