package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joshu-sajeev/sourcestage/internal/storage/postgres"
	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete terminal jobs past their retention",
	Long:  "Deletes completed and failed jobs whose retention window has passed, then trims each queue to its newest RETAIN_COMPLETED_COUNT completed jobs.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		report, err := pruneJobs(cmd.Context(), postgres.NewJobRepository(e.db), e.cfg.Queues, e.cfg.KeepCompleted, e.logger)
		if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
			return perr
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

type pruner interface {
	PruneExpired(ctx context.Context) (int64, error)
	PruneCompletedOverflow(ctx context.Context, queue string, keep int) (int64, error)
}

type pruneReport struct {
	Expired  int64            `json:"expired"`
	Overflow map[string]int64 `json:"overflow"`
}

func pruneJobs(ctx context.Context, store pruner, queues []string, keep int, logger *slog.Logger) (pruneReport, error) {
	report := pruneReport{Overflow: make(map[string]int64, len(queues))}

	expired, err := store.PruneExpired(ctx)
	if err != nil {
		return report, err
	}
	report.Expired = expired

	var errs []error
	for _, q := range queues {
		n, err := store.PruneCompletedOverflow(ctx, q, keep)
		if err != nil {
			errs = append(errs, fmt.Errorf("queue %s: %w", q, err))
			continue
		}
		report.Overflow[q] = n
	}

	logger.Info("pruned jobs", "expired", report.Expired, "overflow", report.Overflow)
	return report, errors.Join(errs...)
}
