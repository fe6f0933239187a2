package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/applyflow/internal/api/dto"
	"github.com/cuongbtq/applyflow/internal/domain"
	"github.com/cuongbtq/applyflow/internal/storage"
)

func newJobsCmd(backendFn backendFunc, outputFn outputFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect jobs",
	}

	cmd.AddCommand(
		newJobsListCmd(backendFn, outputFn),
		newJobsShowCmd(backendFn, outputFn),
	)

	return cmd
}

func newJobsListCmd(backendFn backendFunc, outputFn outputFunc) *cobra.Command {
	var account, status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an account's jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if account == "" {
				return fmt.Errorf("--account is required")
			}
			status = strings.ToUpper(status)
			if status != "" && !domain.Status(status).IsValid() {
				return fmt.Errorf("unknown status %q", status)
			}

			b, err := backendFn()
			if err != nil {
				return err
			}
			jobs, err := b.Jobs()
			if err != nil {
				return err
			}

			list, err := jobs.ListJobs(cmd.Context(), storage.JobFilter{
				AccountID: account,
				Status:    status,
				PageSize:  limit,
			})
			if err != nil {
				return err
			}
			if len(list) > limit {
				list = list[:limit]
			}

			headers := []string{"ID", "STATUS", "ROLE", "TARGET", "ATTEMPTS", "CREATED"}
			rows := make([][]string, len(list))
			out := make([]dto.JobDTO, len(list))
			for i, j := range list {
				rows[i] = []string{j.ID, string(j.Status), j.Role, j.TargetAddress, strconv.Itoa(j.Attempts), formatTime(&j.CreatedAt)}
				out[i] = dto.NewJobDTO(j, false)
			}

			return outputFn(cmd).Print(headers, rows, out)
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Account ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, IN_PROGRESS, SUCCESS, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of results")

	return cmd
}

func newJobsShowCmd(backendFn backendFunc, outputFn outputFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "show JOB_ID",
		Short: "Show a job and its execution trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := backendFn()
			if err != nil {
				return err
			}
			jobs, err := b.Jobs()
			if err != nil {
				return err
			}

			job, err := jobs.GetJobByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			events, err := jobs.ListEvents(cmd.Context(), job.ID)
			if err != nil {
				return err
			}

			out := outputFn(cmd)
			trail := make([]dto.EventDTO, len(events))
			rows := make([][]string, len(events))
			for i, e := range events {
				trail[i] = dto.NewEventDTO(e)
				duration := "-"
				if e.DurationMs != nil {
					duration = strconv.FormatInt(*e.DurationMs, 10) + "ms"
				}
				rows[i] = []string{formatTime(&e.Timestamp), e.Step, e.Status, duration, e.Error}
			}

			if out.jsonMode {
				return out.JSON(struct {
					Job    dto.JobDTO     `json:"job"`
					Events []dto.EventDTO `json:"events"`
				}{dto.NewJobDTO(*job, true), trail})
			}

			if err := out.Table(
				[]string{"ID", "STATUS", "ROLE", "TARGET", "WORKER", "ERROR"},
				[][]string{{job.ID, string(job.Status), job.Role, job.TargetAddress, job.WorkerID, job.Error}},
			); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return out.Table([]string{"TIME", "STEP", "STATUS", "DURATION", "ERROR"}, rows)
		},
	}
}
