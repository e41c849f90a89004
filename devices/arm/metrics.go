package arm

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	commands     *prometheus.CounterVec
	observations prometheus.Counter
}

// newMetrics labels every series with the device's config name so two
// arms in one cell do not collide.
func newMetrics(device string) *metrics {
	labels := prometheus.Labels{"device": device}
	return &metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "cellgym_arm_commands_total",
			Help:        "Arm commands dispatched, by command",
			ConstLabels: labels,
		}, []string{"command"}),
		observations: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "cellgym_arm_observations_total",
			Help:        "Arm observations served",
			ConstLabels: labels,
		}),
	}
}

// SetConfigName rebuilds the collectors under the registered name.
func (d *Device) SetConfigName(name string) {
	d.Base.SetConfigName(name)
	d.metrics = newMetrics(name)
}

func (d *Device) Collectors() []prometheus.Collector {
	return []prometheus.Collector{d.metrics.commands, d.metrics.observations}
}
