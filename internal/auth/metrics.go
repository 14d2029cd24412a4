package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var authValidationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_auth_validations_total",
		Help: "Total number of token validations by result",
	},
	[]string{"result"},
)

func recordAuthResult(result string) {
	authValidationsTotal.WithLabelValues(result).Inc()
}
