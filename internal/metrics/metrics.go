package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gopow",
		Name:      "chain_height",
		Help:      "Number of admitted blocks.",
	})

	MempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gopow",
		Name:      "mempool_size",
		Help:      "Number of pending transactions in the mempool.",
	})

	UTXOSetSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gopow",
		Name:      "utxo_set_size",
		Help:      "Number of entries in the UTXO set.",
	})

	DifficultyTarget = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gopow",
		Name:      "difficulty_target_bits",
		Help:      "Current difficulty target, expressed as its bit length (lower means harder).",
	})

	LocalHashrate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gopow",
		Name:      "local_hashrate",
		Help:      "Estimated local miner hashrate in H/s.",
	})

	BlocksAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gopow",
		Name:      "blocks_admitted_total",
		Help:      "Total blocks admitted by this node.",
	})

	MempoolAdmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gopow",
		Name:      "mempool_admissions_total",
		Help:      "Mempool admission attempts by result.",
	}, []string{"result"})

	BlockSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gopow",
		Name:      "block_submissions_total",
		Help:      "Block submission attempts by result.",
	}, []string{"result"})

	ConnectedPeers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gopow",
		Name:      "connected_peers",
		Help:      "Number of currently connected miner/wallet connections.",
	})

	UptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gopow",
		Name:      "uptime_seconds",
		Help:      "Node uptime in seconds.",
	})
)

func init() {
	prometheus.MustRegister(
		ChainHeight,
		MempoolSize,
		UTXOSetSize,
		DifficultyTarget,
		LocalHashrate,
		BlocksAdmitted,
		MempoolAdmissions,
		BlockSubmissions,
		ConnectedPeers,
		UptimeSeconds,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
