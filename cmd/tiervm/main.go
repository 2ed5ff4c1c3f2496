// Command tiervm runs a single class's public static void main(String[])
// through the tiered interpreter/JIT execution core.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/corejvm/tiervm/pkg/classfile"
	"github.com/corejvm/tiervm/pkg/config"
	"github.com/corejvm/tiervm/pkg/logx"
	"github.com/corejvm/tiervm/pkg/vm"
)

// findBootstrapJmod resolves the java.base jmod supplying java.lang.*
// when neither --bootstrap-jmod nor TIERVM_BOOTSTRAP_JMOD named one
// explicitly.
func findBootstrapJmod(configured string) string {
	if configured != "" {
		return configured
	}
	if javaHome := os.Getenv("JAVA_HOME"); javaHome != "" {
		p := filepath.Join(javaHome, "jmods", "java.base.jmod")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	matches, _ := filepath.Glob("/usr/lib/jvm/java-*-openjdk-*/jmods/java.base.jmod")
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}

// buildLoader assembles the classpath-then-bootstrap-jmod search order
// Execute's class lookups run against. The bootstrap jmod is optional:
// pkg/natives already supplies java.lang.Object/String/Throwable/
// PrintStream/System synthetically, so a classpath-only run (no java.base
// jmod at hand) still has everywhere it needs for classes that don't
// reach further into the standard library.
func buildLoader(cfg config.Config) (classfile.Loader, error) {
	var loaders []classfile.Loader
	for _, dir := range cfg.Classpath {
		loaders = append(loaders, &classfile.DirLoader{Root: dir})
	}
	if jmodPath := findBootstrapJmod(cfg.BootstrapJmod); jmodPath != "" {
		jl, err := classfile.OpenJmod(jmodPath)
		if err != nil {
			return nil, fmt.Errorf("tiervm: opening bootstrap jmod: %w", err)
		}
		loaders = append(loaders, jl)
	}
	if len(loaders) == 0 {
		loaders = append(loaders, &classfile.DirLoader{Root: "."})
	}
	return vm.NewChainLoader(loaders...), nil
}

func run(cmd *cobra.Command, args []string, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("tiervm: loading configuration: %w", err)
	}
	if err := logx.Init(cfg.LogLevel, cfg.Development); err != nil {
		return fmt.Errorf("tiervm: initializing logging: %w", err)
	}
	defer logx.Sync()

	className := strings.TrimSuffix(filepath.Base(args[0]), ".class")
	if dir := filepath.Dir(args[0]); dir != "." {
		cfg.Classpath = append([]string{dir}, cfg.Classpath...)
	}

	loader, err := buildLoader(cfg)
	if err != nil {
		return err
	}
	defer loader.Close()

	machine, err := vm.New(loader, cfg, os.Stdout)
	if err != nil {
		return fmt.Errorf("tiervm: initializing: %w", err)
	}
	return machine.Execute(className)
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "tiervm <classfile>",
		Short: "Run a Java class through the tiered interpreter/JIT core",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, v)
		},
	}
	config.BindFlags(cmd.Flags(), v)
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tiervm: %v\n", err)
		os.Exit(1)
	}
}
