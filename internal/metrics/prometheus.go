package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	CodesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_authorization_codes_issued_total",
		Help: "Total number of authorization codes issued.",
	})
	CodesRedeemedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_authorization_codes_redeemed_total",
		Help: "Total number of authorization codes redeemed.",
	})
	TokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_tokens_issued_total",
		Help: "Total number of tokens minted.",
	})
	TokensRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_tokens_revoked_total",
		Help: "Total number of refresh tokens revoked.",
	})
	TokensEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "access_tokens_evicted_total",
		Help: "Total number of refresh tokens evicted by the capacity limit.",
	})
)

// Register attaches the core's collectors to the given registerer. Call once
// at startup; the collectors themselves work unregistered, so tests need no
// setup.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		CodesIssuedTotal,
		CodesRedeemedTotal,
		TokensIssuedTotal,
		TokensRevokedTotal,
		TokensEvictedTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("failed to register metric collector")
		}
	}
}
