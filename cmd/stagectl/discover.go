package main

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/joshu-sajeev/sourcestage/internal/config"
	"github.com/joshu-sajeev/sourcestage/internal/discovery"
	"github.com/joshu-sajeev/sourcestage/internal/dto"
	"github.com/joshu-sajeev/sourcestage/internal/job"
	"github.com/joshu-sajeev/sourcestage/internal/models"
	"github.com/joshu-sajeev/sourcestage/internal/scheduler"
	"github.com/joshu-sajeev/sourcestage/internal/storage/postgres"
	"github.com/spf13/cobra"
)

const cliRequestedBy = "stagectl"

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Enqueue a discovery run for one connection",
	Long:  "Enqueues a discover_sources job for an active connection. --since takes an RFC 3339 timestamp or a duration to look back from now, such as 72h.",
	RunE:  runDiscover,
}

var (
	discoverConnection string
	discoverSince      string
	discoverLimit      int
)

func init() {
	discoverCmd.Flags().StringVar(&discoverConnection, "connection", "", "Connection ID (required)")
	discoverCmd.Flags().StringVar(&discoverSince, "since", "24h", "RFC 3339 time or look-back duration")
	discoverCmd.Flags().IntVar(&discoverLimit, "limit", discovery.DefaultLimit, "Maximum items to discover")

	if err := discoverCmd.MarkFlagRequired("connection"); err != nil {
		panic(fmt.Sprintf("failed to mark connection flag as required: %v", err))
	}

	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	since, err := parseSince(discoverSince, time.Now())
	if err != nil {
		return err
	}
	if discoverLimit < 1 {
		return fmt.Errorf("limit must be greater than 0, got %d", discoverLimit)
	}

	e, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	jobs := job.NewJobService(postgres.NewJobRepository(e.db), job.PolicyFromConfig(e.cfg))
	resp, err := enqueueDiscovery(cmd.Context(), postgres.NewConnectionRepository(e.db), jobs, discoverConnection, since, discoverLimit)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), resp)
}

// parseSince accepts an absolute RFC 3339 time or a duration counted back
// from now.
func parseSince(raw string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("since must be an RFC 3339 time or a positive duration, got %q", raw)
	}
	return now.UTC().Add(-d), nil
}

type connectionGetter interface {
	GetByID(ctx context.Context, id string) (*models.Connection, error)
}

func enqueueDiscovery(ctx context.Context, conns connectionGetter, jobs scheduler.Enqueuer, id string, since time.Time, limit int) (*dto.JobResponseDTO, error) {
	conn, err := conns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn.Status != config.ConnectionStatusActive {
		return nil, fmt.Errorf("connection %s is %s", conn.ID, conn.Status)
	}
	if !slices.Contains(discovery.SourceTypes(), conn.IntegrationType) {
		return nil, fmt.Errorf("connection %s: %w: %q", conn.ID, discovery.ErrUnknownSourceType, conn.IntegrationType)
	}
	if conn.LibraryID == "" {
		return nil, fmt.Errorf("connection %s has no library", conn.ID)
	}

	req, err := scheduler.DiscoveryRequest(*conn, since, limit, cliRequestedBy)
	if err != nil {
		return nil, err
	}
	return jobs.AddJob(ctx, req)
}
