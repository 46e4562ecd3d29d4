// Package metrics exposes the store and run engine's operational counters
// as a Prometheus-scrapeable namespace, following the same
// docker/go-metrics registration idiom the storage layer's upstream uses
// for its own blob/manifest operation counters.
package metrics

import (
	"time"

	metrics "github.com/docker/go-metrics"
)

// Namespace is the top-level metrics namespace for this tool, registered
// against the default Prometheus registry on package init.
var Namespace = metrics.NewNamespace("reprocas", "", nil)

var (
	commitDuration = Namespace.NewLabeledTimer("commit_duration_seconds", "Time to commit an object into the store.", "kind")
	commitTotal    = Namespace.NewLabeledCounter("commits_total", "Number of objects committed into the store.", "kind")
	runDuration    = Namespace.NewTimer("run_duration_seconds", "Time to execute one step run, from input resolution to manifest write.")
	runTotal       = Namespace.NewCounter("runs_total", "Number of step runs executed.")
	runFailures    = Namespace.NewCounter("run_failures_total", "Number of step runs that returned an error before a manifest was written.")
)

func init() {
	metrics.Register(Namespace)
}

// ObserveCommit records the duration of a blob or tree commit. kind is
// "blob" or "tree".
func ObserveCommit(kind string, start time.Time) {
	commitDuration.WithValues(kind).UpdateSince(start)
	commitTotal.WithValues(kind).Inc(1)
}

// ObserveRun records the duration of a run and counts it, whether the run
// succeeded or failed.
func ObserveRun(start time.Time) {
	runDuration.UpdateSince(start)
	runTotal.Inc(1)
}

// ObserveRunFailure increments the run-failure counter.
func ObserveRunFailure() {
	runFailures.Inc(1)
}
