package main

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app is the state shared by the commands of one invocation.
type app struct {
	fs     afero.Fs
	conf   Config
	logger *zap.Logger
}

// newRootCommand builds the ibltsim command tree over fs.
func newRootCommand(fs afero.Fs) *cobra.Command {
	a := &app{fs: fs, logger: zap.NewNop()}
	defaults := DefaultConfig()

	root := &cobra.Command{
		Use:           "ibltsim",
		Short:         "simulate and run IBLT set reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(a.fs, cmd)
			if err != nil {
				return err
			}
			a.conf = conf
			a.logger, err = newLogger(cmd.ErrOrStderr(), conf.LogLevel)
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "load configuration from file")
	pf.String("log-level", defaults.LogLevel, "logging level (debug, info, warn, error)")
	pf.Uint64("seed", defaults.Seed, "base seed for hashing and key generation")
	pf.String("hash", defaults.Hash, "hash family (xxh3, tabulation)")
	pf.Int("workers", defaults.Workers, "trials run concurrently")

	root.AddCommand(
		a.thresholdCommand(defaults),
		a.xorCommand(defaults),
		a.multiCommand(defaults),
		a.estimateCommand(defaults),
		a.reconcileCommand(defaults),
	)
	return root
}

func newLogger(w io.Writer, level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(w),
		lvl,
	)
	return zap.New(core), nil
}

// tableFlags registers the table shape flags.
func tableFlags(fs *pflag.FlagSet, defaults Config) {
	fs.Int("buckets", defaults.Buckets, "buckets per table")
	fs.Int("hashfns", defaults.HashFns, "hash functions (sub-tables) per table")
}

// trialFlags registers the flags of commands that repeat random trials.
func trialFlags(fs *pflag.FlagSet, defaults Config) {
	fs.Int("trials", defaults.Trials, "number of random trials")
}

// sampleFlags registers the flags describing generated key sets.
func sampleFlags(fs *pflag.FlagSet, defaults Config) {
	fs.Int("shared", defaults.Shared, "keys held by every party")
	fs.Int("distinct", defaults.Distinct, "keys held by each party alone")
}
