package main

import (
	"fmt"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/snapshot"
	"github.com/aristath/allocator/pkg/logger"
	"github.com/spf13/cobra"
)

const version = "v0.1.0"

type allocateOptions struct {
	stats   bool
	gamma   float64
	workers int
	format  string
}

// allocationResult is one line of the report.
type allocationResult struct {
	Source     string                           `json:"source" msgpack:"source"`
	Allocation optimization.PortfolioAllocation `json:"allocation" msgpack:"allocation"`
	Stats      *optimization.PortfolioStats     `json:"stats,omitempty" msgpack:"stats,omitempty"`
}

func newRootCmd() *cobra.Command {
	opts := &allocateOptions{}

	root := &cobra.Command{
		Use:     "allocate [snapshot files...]",
		Short:   "Compute mean-variance portfolio allocations",
		Long:    "Reads market snapshots (JSON or MessagePack), maximizes the mean-variance utility for each and prints the allocations.",
		Version: version,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAllocate(cmd, args, opts)
		},
		SilenceUsage: true,
	}

	root.Flags().BoolVar(&opts.stats, "stats", false, "include expected return, variance and utility of each allocation")
	root.Flags().Float64Var(&opts.gamma, "gamma", 0, "risk-aversion coefficient (overrides ALLOCATOR_GAMMA)")
	root.Flags().IntVar(&opts.workers, "workers", 0, "concurrent allocations (overrides ALLOCATOR_WORKERS)")
	root.Flags().StringVar(&opts.format, "format", "json", "output format (json|msgpack)")

	return root
}

func runAllocate(cmd *cobra.Command, args []string, opts *allocateOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("gamma") {
		cfg.Allocator.Gamma = opts.gamma
	}
	if cmd.Flags().Changed("workers") {
		cfg.Allocator.Workers = opts.workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	outFormat, err := snapshot.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: cmd.ErrOrStderr(),
	})

	var (
		snapshots []optimization.MarketSnapshot
		sources   []string
	)
	for _, path := range args {
		decoded, err := snapshot.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for i, s := range decoded {
			source := path
			if len(decoded) > 1 {
				source = fmt.Sprintf("%s#%d", path, i)
			}
			snapshots = append(snapshots, s)
			sources = append(sources, source)
		}
	}

	log.Info().
		Int("snapshots", len(snapshots)).
		Float64("gamma", cfg.Allocator.Gamma).
		Int("workers", cfg.Allocator.Workers).
		Msg("Computing allocations")

	allocator := optimization.NewAllocator(
		cfg.RiskPreference(),
		log,
		optimization.WithSolverSettings(cfg.SolverSettings()),
	)

	allocations, err := allocator.ComputeBatch(cmd.Context(), snapshots, cfg.Allocator.Workers)
	if err != nil {
		return err
	}

	results := make([]allocationResult, len(allocations))
	for i, allocation := range allocations {
		results[i] = allocationResult{Source: sources[i], Allocation: allocation}
		if !opts.stats {
			continue
		}
		stats, err := allocator.Stats(snapshots[i], allocation)
		if err != nil {
			log.Warn().Err(err).Str("source", sources[i]).Msg("Failed to evaluate allocation")
			continue
		}
		results[i].Stats = &stats
	}

	return snapshot.Encode(cmd.OutOrStdout(), outFormat, results)
}
