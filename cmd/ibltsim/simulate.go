package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jcalabro/iblt"
	"github.com/jcalabro/iblt/internal/keygen"
)

// runTrials runs fn for every trial index on at most workers goroutines and
// returns the results in trial order.
func runTrials[T any](ctx context.Context, workers, trials int, fn func(ctx context.Context, trial int) (T, error)) ([]T, error) {
	out := make([]T, trials)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range trials {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := fn(ctx, i)
			if err != nil {
				return fmt.Errorf("trial %d: %w", i, err)
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// trialGenerator returns the key generator of a trial. Trials of a run draw
// different keys; reruns with the same seed draw the same ones.
func (a *app) trialGenerator(trial int) *keygen.Generator {
	return keygen.New(int64(a.conf.Seed) + int64(trial))
}

func (a *app) thresholdCommand(defaults Config) *cobra.Command {
	c := &cobra.Command{
		Use:   "threshold",
		Short: "measure peel success as a table fills up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.threshold(cmd.Context(), cmd.OutOrStdout())
		},
	}
	tableFlags(c.Flags(), defaults)
	trialFlags(c.Flags(), defaults)
	c.Flags().Int("step", defaults.Step, "key count increment between loads")
	return c
}

// threshold inserts a growing number of keys into a table and reports the
// fraction of trials that peel completely at each load.
func (a *app) threshold(ctx context.Context, w io.Writer) error {
	conf := a.conf
	opts := conf.Options(a.logger.Named("threshold"))
	numBuckets := iblt.New[uint64](conf.Buckets, conf.HashFns).NumBuckets()

	fmt.Fprintf(w, "%8s %8s %8s\n", "keys", "load", "success")
	for n := conf.Step; n <= numBuckets; n += conf.Step {
		ok, err := runTrials(ctx, conf.Workers, conf.Trials, func(_ context.Context, trial int) (bool, error) {
			t := iblt.New[uint64](conf.Buckets, conf.HashFns, opts...)
			t.InsertKeys(keygen.Distinct[uint64](a.trialGenerator(trial), n)...)
			_, err := t.Peel()
			if errors.Is(err, iblt.ErrPeelFailed) {
				return false, nil
			}
			return err == nil, err
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%8d %8.3f %8.3f\n", n, float64(n)/float64(numBuckets), ratio(ok))
	}
	return nil
}

func ratio(results []bool) float64 {
	if len(results) == 0 {
		return 0
	}
	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(results))
}

func (a *app) xorCommand(defaults Config) *cobra.Command {
	c := &cobra.Command{
		Use:   "xor",
		Short: "reconcile two random key sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.xor(cmd.Context(), cmd.OutOrStdout())
		},
	}
	tableFlags(c.Flags(), defaults)
	trialFlags(c.Flags(), defaults)
	sampleFlags(c.Flags(), defaults)
	return c
}

// xor builds two parties' tables over sets sharing conf.Shared keys, removes
// one from the other and checks the peeled difference against the truth.
func (a *app) xor(ctx context.Context, w io.Writer) error {
	conf := a.conf
	opts := conf.Options(a.logger.Named("xor"))
	ok, err := runTrials(ctx, conf.Workers, conf.Trials, func(_ context.Context, trial int) (bool, error) {
		s := keygen.NewSample[uint64](a.trialGenerator(trial), conf.Shared, conf.Distinct, 2)
		mine := iblt.New[uint64](conf.Buckets, conf.HashFns, opts...)
		theirs := iblt.New[uint64](conf.Buckets, conf.HashFns, opts...)
		mine.InsertKeys(s.Set(0)...)
		theirs.InsertKeys(s.Set(1)...)
		if err := mine.XOR(theirs); err != nil {
			return false, err
		}
		onlyMine, onlyTheirs, err := mine.PeelDiff()
		if errors.Is(err, iblt.ErrPeelFailed) {
			return false, nil
		} else if err != nil {
			return false, err
		}
		return sameKeys(s.Distinct[0], onlyMine) && sameKeys(s.Distinct[1], onlyTheirs), nil
	})
	if err != nil {
		return err
	}

	bits := iblt.New[uint64](conf.Buckets, conf.HashFns).SizeInBits()
	fmt.Fprintf(w, "difference %d, table %d bits, recovered %.3f of %d trials\n",
		2*conf.Distinct, bits, ratio(ok), conf.Trials)
	return nil
}

// sameKeys reports whether got, which is sorted, holds exactly want.
func sameKeys[K iblt.Key](want, got []K) bool {
	want = slices.Clone(want)
	slices.Sort(want)
	return slices.Equal(want, got)
}

func (a *app) multiCommand(defaults Config) *cobra.Command {
	c := &cobra.Command{
		Use:   "multi",
		Short: "attribute keys among several parties",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.multi(cmd.Context(), cmd.OutOrStdout())
		},
	}
	tableFlags(c.Flags(), defaults)
	trialFlags(c.Flags(), defaults)
	sampleFlags(c.Flags(), defaults)
	c.Flags().Int("parties", defaults.Parties, "number of parties")
	return c
}

// multi combines one table per party with AddParty and checks that every
// distinct key is attributed to the party holding it.
func (a *app) multi(ctx context.Context, w io.Writer) error {
	conf := a.conf
	opts := conf.Options(a.logger.Named("multi"))
	ok, err := runTrials(ctx, conf.Workers, conf.Trials, func(_ context.Context, trial int) (bool, error) {
		s := keygen.NewSample[uint64](a.trialGenerator(trial), conf.Shared, conf.Distinct, conf.Parties)
		result, err := iblt.NewMulti[uint64](conf.Buckets, conf.HashFns, conf.Parties, opts...)
		if err != nil {
			return false, err
		}
		for i := range conf.Parties {
			t, err := iblt.NewMulti[uint64](conf.Buckets, conf.HashFns, conf.Parties, opts...)
			if err != nil {
				return false, err
			}
			t.InsertKeys(s.Set(i)...)
			if err := result.AddParty(t, i); err != nil {
				return false, err
			}
		}

		holders, err := result.Peel()
		if errors.Is(err, iblt.ErrPeelFailed) {
			return false, nil
		} else if err != nil {
			return false, err
		}
		if len(holders) != conf.Parties*conf.Distinct {
			return false, nil
		}
		for i, keys := range s.Distinct {
			for _, k := range keys {
				if !slices.Equal(holders[k], []int{i}) {
					return false, nil
				}
			}
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	t, err := iblt.NewMulti[uint64](conf.Buckets, conf.HashFns, conf.Parties)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d parties, modulus %d, table %d bits, attributed %.3f of %d trials\n",
		conf.Parties, t.Modulus(), t.SizeInBits(), ratio(ok), conf.Trials)
	return nil
}

func (a *app) estimateCommand(defaults Config) *cobra.Command {
	c := &cobra.Command{
		Use:   "estimate",
		Short: "compare strata estimates with the true difference",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.estimate(cmd.Context(), cmd.OutOrStdout())
		},
	}
	trialFlags(c.Flags(), defaults)
	c.Flags().Int("shared", defaults.Shared, "keys held by both parties")
	c.Flags().Int("diff", defaults.Diff, "size of the symmetric difference")
	return c
}

// estimate reports how strata estimates of a known difference spread.
func (a *app) estimate(ctx context.Context, w io.Writer) error {
	conf := a.conf
	opts := conf.Options(a.logger.Named("estimate"))
	estimates, err := runTrials(ctx, conf.Workers, conf.Trials, func(_ context.Context, trial int) (uint64, error) {
		s := keygen.NewSample[uint64](a.trialGenerator(trial), conf.Shared, conf.Diff/2, 2)
		mine := iblt.NewStrataEstimator[uint64](opts...)
		theirs := iblt.NewStrataEstimator[uint64](opts...)
		mine.InsertKeys(s.Set(0)...)
		theirs.InsertKeys(s.Set(1)...)
		return mine.EstimateDiff(theirs)
	})
	if err != nil {
		return err
	}

	truth := conf.Diff / 2 * 2
	slices.Sort(estimates)
	median := estimates[len(estimates)/2]
	a.logger.Debug("estimates", zap.Uint64s("sorted", estimates))
	fmt.Fprintf(w, "difference %d, estimate min %d median %d max %d\n",
		truth, estimates[0], median, estimates[len(estimates)-1])
	if truth > 0 {
		fmt.Fprintf(w, "median overhead %.3f\n", float64(median)/float64(truth))
	}
	return nil
}
