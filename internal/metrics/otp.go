package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OTP verification metrics. Standalone package so the core flow and HTTP
// packages can both record without import cycles.

var (
	Verifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otpgate_verifications_total",
		Help: "Submitted codes by outcome (verified, invalid_code, nothing_pending)",
	}, []string{"outcome"})

	ReplayRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "otpgate_replay_rejections_total",
		Help: "Codes rejected because they were already redeemed within the drift window",
	})

	ReplayStoreFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "otpgate_replay_store_failures_total",
		Help: "Replay-guard cache failures (verification proceeded fail-open)",
	})

	Dispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otpgate_code_dispatches_total",
		Help: "OTP code deliveries by status (ok, error)",
	}, []string{"status"})

	RememberBypasses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "otpgate_remember_bypasses_total",
		Help: "Logins that skipped verification via a valid remember-me cookie",
	})
)

// Register registers the OTP metrics on the given registry (or the
// default if nil). Double registration is tolerated.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		Verifications,
		ReplayRejections,
		ReplayStoreFailures,
		Dispatches,
		RememberBypasses,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
