package soundcontrol

import (
	"time"

	"go.uber.org/zap"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
)

// commandOutcome is what a transport sends back for one request line
type commandOutcome struct {
	reply mixer.Reply
	err   error
}

// commandRunner is the single entry point transports use to reach the mixer
type commandRunner struct {
	logger  *zap.SugaredLogger
	mixer   *mixer.Mixer
	metrics *commandMetrics
}

func newCommandRunner(logger *zap.SugaredLogger, m *mixer.Mixer, metrics *commandMetrics) *commandRunner {
	return &commandRunner{
		logger:  logger.Named("commands"),
		mixer:   m,
		metrics: metrics,
	}
}

func (r *commandRunner) execute(source string, line string) commandOutcome {
	start := time.Now()
	reply, err := r.mixer.Execute(line)
	elapsed := time.Since(start)

	r.metrics.observe(source, reply.Command, err, elapsed)

	if err != nil {
		r.logger.Infow("Command failed", "source", source, "line", line, "error", err)
	} else {
		r.logger.Debugw("Command executed", "source", source, "command", reply.Command, "elapsed", elapsed)
	}

	return commandOutcome{reply: reply, err: err}
}
