package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	opEnvsEnvs        = "envs_envs"
	opEnvsEnvsGrad    = "envs_envs_grad"
	opEnvsStruc       = "envs_struc"
	opSelfKernel      = "self_kernel_struc"
	opStrucStruc      = "struc_struc"
	opHyperparameters = "hyperparameters"
)

var (
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "granite_kernel_evaluations_total",
		Help: "Total number of kernel evaluation requests by operation and status.",
	}, []string{"operation", "status"})

	evaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "granite_kernel_evaluation_duration_seconds",
		Help:    "Latency of kernel evaluation requests by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

func observeEvaluation(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	evaluationsTotal.WithLabelValues(op, status).Inc()
	evaluationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
