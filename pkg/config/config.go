// Package config binds tiervm's runtime configuration: classpath,
// bootstrap jmod location, logging, and tiering knobs. Precedence
// follows viper's usual layering: flags > environment (TIERVM_
// prefix) > config file (tiervm.yaml) > defaults.
package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved set of knobs the VM needs to boot.
type Config struct {
	// Classpath is a list of directories searched for user classes,
	// before the bootstrap jmod.
	Classpath []string
	// BootstrapJmod points at the java.base jmod (or equivalent)
	// supplying java.lang.*, java.util.*, etc.
	BootstrapJmod string
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string
	// Development selects the human-readable console log encoder.
	Development bool
	// OSRThreshold is the interpreter backedge count that triggers an
	// OSR transition into the JIT tier.
	OSRThreshold int
	// JITEnabled, when false, stops the interpreter from OSR-ing into
	// the JIT tier. It does not keep methods out of the JIT: every
	// method is still compiled by pkg/codegen on its first call, and
	// only the methods codegen rejects run on the interpreter.
	JITEnabled bool
	// MaxStackDepth bounds recursive Java call depth, guarding against
	// runaway recursion overflowing the host Go stack.
	MaxStackDepth int
}

func defaults() Config {
	return Config{
		LogLevel:      "info",
		Development:   true,
		OSRThreshold:  10000,
		JITEnabled:    true,
		MaxStackDepth: 4096,
	}
}

// BindFlags registers tiervm's configuration flags on fs and binds
// them into v with the TIERVM_ environment prefix, the same
// flags-then-env-then-file layering every viper-based CLI in the
// corpus uses.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	d := defaults()

	fs.StringSlice("classpath", nil, "user classpath directories")
	fs.String("bootstrap-jmod", "", "path to the bootstrap (java.base) jmod")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	fs.Bool("dev-log", d.Development, "use human-readable console logging")
	fs.Int("osr-threshold", d.OSRThreshold, "interpreter backedge count before OSR to JIT")
	fs.Bool("no-jit", !d.JITEnabled, "disable interpreter-to-JIT OSR (methods are still JIT-compiled on first call)")
	fs.Int("max-stack-depth", d.MaxStackDepth, "maximum nested Java call depth")

	v.BindPFlags(fs)
	v.SetEnvPrefix("TIERVM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetConfigName("tiervm")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
}

// Load reads bound flags/env/file into a Config. A missing config
// file is not an error — defaults and flags/env still apply.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, err
		}
	}

	return Config{
		Classpath:     v.GetStringSlice("classpath"),
		BootstrapJmod: v.GetString("bootstrap-jmod"),
		LogLevel:      v.GetString("log-level"),
		Development:   v.GetBool("dev-log"),
		OSRThreshold:  v.GetInt("osr-threshold"),
		JITEnabled:    !v.GetBool("no-jit"),
		MaxStackDepth: v.GetInt("max-stack-depth"),
	}, nil
}
