// Package metrics exposes prometheus metrics for the consensus core.
// Metrics are side effects only; no component reads them back.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Consensus holds the metrics recorded by the consensus core.
type Consensus struct {
	// AcceptedBlocks counts blocks accepted into the DAG by source ("own" or "others").
	AcceptedBlocks *prometheus.CounterVec
	// HighestAcceptedRound tracks the highest round of any accepted block.
	HighestAcceptedRound prometheus.Gauge
	// OutOfOrderBlocks counts blocks accepted below an authority's committed watermark.
	OutOfOrderBlocks *prometheus.CounterVec
	// LastCommitIndex tracks the index of the latest commit.
	LastCommitIndex prometheus.Gauge
	// DecidedLeaders counts leader slot decisions by outcome ("Commit" or "Skip").
	DecidedLeaders *prometheus.CounterVec
	// BroadcasterRTT tracks the smoothed round-trip estimate per peer, in seconds.
	BroadcasterRTT *prometheus.GaugeVec
}

// NewConsensus creates the consensus metrics and registers them with reg.
func NewConsensus(reg prometheus.Registerer) *Consensus {
	factory := promauto.With(reg)
	return &Consensus{
		AcceptedBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consensus_accepted_blocks",
			Help: "Number of blocks accepted into the DAG.",
		}, []string{"source"}),
		HighestAcceptedRound: factory.NewGauge(prometheus.GaugeOpts{
			Name: "consensus_highest_accepted_round",
			Help: "Highest round of any accepted block.",
		}),
		OutOfOrderBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consensus_out_of_order_blocks",
			Help: "Number of accepted blocks at or below an authority's committed round watermark.",
		}, []string{"authority"}),
		LastCommitIndex: factory.NewGauge(prometheus.GaugeOpts{
			Name: "consensus_last_commit_index",
			Help: "Index of the latest commit.",
		}),
		DecidedLeaders: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consensus_decided_leaders",
			Help: "Number of decided leader slots by outcome.",
		}, []string{"outcome"}),
		BroadcasterRTT: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "consensus_broadcaster_rtt_seconds",
			Help: "Smoothed round-trip estimate per peer.",
		}, []string{"peer"}),
	}
}

// NewNopConsensus creates consensus metrics backed by a throwaway registry,
// for use in tests.
func NewNopConsensus() *Consensus {
	return NewConsensus(prometheus.NewRegistry())
}

// ObserveRTT records the smoothed round-trip estimate for a peer.
func (m *Consensus) ObserveRTT(peer string, rtt time.Duration) {
	m.BroadcasterRTT.WithLabelValues(peer).Set(rtt.Seconds())
}
