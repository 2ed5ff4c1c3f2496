// Package logx wraps the VM's structured logger. Every package above
// the interpreter's per-instruction hot path logs through here rather
// than fmt.Println/log.*; the hot path itself does not log at all, to
// keep per-instruction overhead off the logger.
package logx

import (
	"go.uber.org/zap"
)

var base *zap.Logger = zap.NewNop()
var sugar *zap.SugaredLogger = base.Sugar()

// Init builds the package-level logger for the given level
// ("debug", "info", "warn", "error") and mode. Development mode uses
// zap's human-readable console encoder; production uses the JSON
// encoder, matching the split every zap-based service in the corpus
// makes between local runs and deployed ones.
func Init(level string, development bool) error {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	l, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return err
	}
	cfg.Level = l

	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	base = logger
	sugar = logger.Sugar()
	return nil
}

func Sync() error { return base.Sync() }

func Debugf(template string, args ...interface{}) { sugar.Debugf(template, args...) }
func Infof(template string, args ...interface{})  { sugar.Infof(template, args...) }
func Warnf(template string, args ...interface{})  { sugar.Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { sugar.Errorf(template, args...) }

// Named returns a child logger scoped to a subsystem, e.g.
// logx.Named("materialize") for the lazy stub generator's diagnostics.
func Named(name string) *zap.SugaredLogger { return sugar.Named(name) }
