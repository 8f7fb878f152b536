package soundcontrol

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
)

// command sources, used as metric labels
const (
	sourceHTTP      = "http"
	sourceWebsocket = "websocket"
	sourceSerial    = "serial"
	sourceTray      = "tray"
	sourceTimer     = "timer"
	sourceConfig    = "config"
)

// opcode label for lines that never parsed
const opcodeInvalid = "invalid"

// commandMetrics lives on its own registry so each instance starts from zero
type commandMetrics struct {
	registry *prometheus.Registry

	// commands tracks commands by source, opcode and outcome
	commands *prometheus.CounterVec

	// duration tracks command latency, refresh included, in seconds
	duration *prometheus.HistogramVec

	// subscribers tracks connected push clients
	subscribers *prometheus.GaugeVec
}

func newCommandMetrics() *commandMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &commandMetrics{
		registry: registry,

		commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soundcontrol_commands_total",
				Help: "Total commands by source, opcode and outcome",
			},
			[]string{"source", "opcode", "outcome"},
		),

		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "soundcontrol_command_duration_seconds",
				Help:    "Command duration in seconds, including the refresh it triggers",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"opcode"},
		),

		subscribers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "soundcontrol_subscribers_current",
				Help: "Connected snapshot subscribers by transport",
			},
			[]string{"transport"},
		),
	}
}

func (cm *commandMetrics) observe(source string, cmd mixer.Command, err error, elapsed time.Duration) {
	opcode := string(cmd.Op)
	if opcode == "" {
		opcode = opcodeInvalid
	}

	outcome := "ok"
	if err != nil {
		_, outcome = classifyError(err)
	}

	cm.commands.WithLabelValues(source, opcode, outcome).Inc()
	cm.duration.WithLabelValues(opcode).Observe(elapsed.Seconds())
}

func (cm *commandMetrics) handler() http.Handler {
	return promhttp.HandlerFor(cm.registry, promhttp.HandlerOpts{})
}
