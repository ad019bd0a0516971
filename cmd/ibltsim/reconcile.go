package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/jcalabro/iblt"
)

func (a *app) reconcileCommand(defaults Config) *cobra.Command {
	c := &cobra.Command{
		Use:   "reconcile FILE_A FILE_B",
		Short: "print the lines found in only one of two files",
		Long: `Reconcile estimates how many lines differ between two files, sizes an
IBLT from the estimate and peels the difference. Lines only in FILE_A are
printed with a "< " prefix and lines only in FILE_B with "> ". When peeling
fails the table is doubled and the exchange retried.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.reconcile(cmd.OutOrStdout(), args[0], args[1])
		},
	}
	c.Flags().Int("attempts", defaults.Attempts, "table sizes to try before giving up")
	return c
}

// lineSet maps the key of every distinct line of a file to the line.
type lineSet map[uint64]string

// lineKey derives the 64-bit key of a line from its BLAKE3 digest.
func lineKey(line string) uint64 {
	sum := blake3.Sum256([]byte(line))
	return binary.LittleEndian.Uint64(sum[:8])
}

func readLines(fs afero.Fs, path string) (lineSet, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	set := make(lineSet)
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return set, nil
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		set[lineKey(line)] = line
	}
	return set, nil
}

func (s lineSet) keys() []uint64 {
	keys := make([]uint64, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	return keys
}

// lines returns the sorted lines of keys.
func (s lineSet) lines(keys []uint64) ([]string, error) {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		line, ok := s[k]
		if !ok {
			return nil, fmt.Errorf("peeled key %#x matches no line", k)
		}
		out = append(out, line)
	}
	slices.Sort(out)
	return out, nil
}

func (a *app) reconcile(w io.Writer, pathA, pathB string) error {
	setA, err := readLines(a.fs, pathA)
	if err != nil {
		return err
	}
	setB, err := readLines(a.fs, pathB)
	if err != nil {
		return err
	}
	keysA, keysB := setA.keys(), setB.keys()
	opts := a.conf.Options(a.logger.Named("reconcile"))

	estA := iblt.NewStrataEstimator[uint64](opts...)
	estB := iblt.NewStrataEstimator[uint64](opts...)
	estA.InsertKeys(keysA...)
	estB.InsertKeys(keysB...)
	d, err := estA.EstimateDiff(estB)
	if err != nil {
		return err
	}

	numBuckets, numHashFns := iblt.OptimalParams(max(d, 1))
	a.logger.Info("estimated difference",
		zap.Int("lines_a", len(setA)),
		zap.Int("lines_b", len(setB)),
		zap.Uint64("estimate", d),
		zap.Int("buckets", numBuckets))

	for attempt := 1; ; attempt++ {
		onlyA, onlyB, err := peelDiff(keysA, keysB, numBuckets, numHashFns, opts)
		if err == nil {
			return printDiff(w, setA, setB, onlyA, onlyB)
		}
		if !errors.Is(err, iblt.ErrPeelFailed) {
			return err
		}
		if attempt >= a.conf.Attempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		numBuckets *= 2
		a.logger.Info("peel failed, retrying with a larger table",
			zap.Int("attempt", attempt),
			zap.Int("buckets", numBuckets))
	}
}

// peelDiff builds both parties' tables and peels their difference.
func peelDiff(keysA, keysB []uint64, numBuckets, numHashFns int, opts []iblt.Option) (onlyA, onlyB []uint64, err error) {
	tA := iblt.New[uint64](numBuckets, numHashFns, opts...)
	tB := iblt.New[uint64](numBuckets, numHashFns, opts...)
	tA.InsertKeys(keysA...)
	tB.InsertKeys(keysB...)
	if err := tA.Remove(tB); err != nil {
		return nil, nil, err
	}
	return tA.PeelDiff()
}

func printDiff(w io.Writer, setA, setB lineSet, onlyA, onlyB []uint64) error {
	linesA, err := setA.lines(onlyA)
	if err != nil {
		return err
	}
	linesB, err := setB.lines(onlyB)
	if err != nil {
		return err
	}
	for _, line := range linesA {
		fmt.Fprintf(w, "< %s\n", line)
	}
	for _, line := range linesB {
		fmt.Fprintf(w, "> %s\n", line)
	}
	return nil
}
