// Package observability holds process-wide logging and metrics handles for
// the icenimbus binary.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/3leaps/icenimbus/pkg/metrics"
)

// CLILogger is the logger for command output on stderr. It is a no-op
// logger until InitCLILogger runs.
var CLILogger = zap.NewNop()

// Metrics is the collector shared by the transport, the table loader and
// the read API. Nil until InitMetrics runs; every metrics method tolerates
// nil.
var Metrics *metrics.Metrics

// InitCLILogger replaces CLILogger with a console logger named name.
// verbose forces debug level; otherwise level is used ("" means info).
func InitCLILogger(name string, verbose bool, level ...string) {
	lvl := zapcore.InfoLevel
	if len(level) > 0 && level[0] != "" {
		if parsed, err := zapcore.ParseLevel(strings.ToLower(level[0])); err == nil {
			lvl = parsed
		}
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if !verbose {
		encCfg.CallerKey = ""
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(lvl),
	)
	CLILogger = zap.New(core, zap.AddCaller()).Named(name)
}

// InitMetrics creates the shared collector once and returns it.
func InitMetrics() *metrics.Metrics {
	if Metrics == nil {
		Metrics = metrics.New()
	}
	return Metrics
}
