package main

import (
	"fmt"
	"strconv"

	"github.com/joshu-sajeev/sourcestage/internal/job"
	"github.com/joshu-sajeev/sourcestage/internal/storage/postgres"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect queued jobs",
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 0)
		if err != nil || id < 1 {
			return fmt.Errorf("invalid job ID %q", args[0])
		}

		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		resp, err := jobService(e).GetJobByID(cmd.Context(), uint(id))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

var (
	jobsQueue  string
	jobsStatus string
	jobsLimit  int
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the newest jobs of a queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		jobs, err := jobService(e).ListJobs(cmd.Context(), job.ListFilter{
			Queue:  jobsQueue,
			Status: jobsStatus,
			Limit:  jobsLimit,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), jobs)
	},
}

func init() {
	jobsListCmd.Flags().StringVarP(&jobsQueue, "queue", "q", "", "Queue name (required)")
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Only jobs in this status")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 50, "Maximum jobs to list")

	if err := jobsListCmd.MarkFlagRequired("queue"); err != nil {
		panic(fmt.Sprintf("failed to mark queue flag as required: %v", err))
	}

	jobsCmd.AddCommand(jobsGetCmd, jobsListCmd)
	rootCmd.AddCommand(jobsCmd)
}

func jobService(e *env) *job.JobService {
	return job.NewJobService(postgres.NewJobRepository(e.db), job.PolicyFromConfig(e.cfg))
}
