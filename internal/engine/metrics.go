package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// commandsTotal counts resolved commands by kind and outcome
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memstate_engine_commands_total",
		Help: "Commands resolved by kind and outcome",
	}, []string{"kind", "outcome"})

	// replayedRecords counts records applied during replay and rebuilds
	replayedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memstate_engine_replayed_records_total",
		Help: "Journal records applied during replay",
	})

	// rebuildsTotal counts model rebuilds after persistence failures
	rebuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memstate_engine_rebuilds_total",
		Help: "Model rebuilds after a failed batch in relaxed durability",
	})

	// pendingDepth tracks commands awaiting a batch outcome
	pendingDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memstate_engine_pending_commands",
		Help: "Journaled commands waiting for their batch outcome",
	})
)

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch CodeOf(err) {
	case "":
		return "error"
	default:
		return string(CodeOf(err))
	}
}
