package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/applyflow/internal/dispatch"
	"github.com/cuongbtq/applyflow/internal/ratelimit"
)

// credentialEnv is read instead of a flag so the secret stays out of shell history.
const credentialEnv = "JOBCTL_CREDENTIAL"

func newMigrateCmd(backendFn backendFunc, outputFn outputFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := backendFn()
			if err != nil {
				return err
			}
			m, err := b.Migrator()
			if err != nil {
				return err
			}
			if err := m.Migrate(cmd.Context()); err != nil {
				return err
			}
			outputFn(cmd).Success("Migrations applied")
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := backendFn()
			if err != nil {
				return err
			}
			m, err := b.Migrator()
			if err != nil {
				return err
			}
			states, err := m.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, len(states))
			for i, s := range states {
				rows[i] = []string{strconv.FormatInt(s.Version, 10), s.Path, strconv.FormatBool(s.Applied)}
			}
			return outputFn(cmd).Print([]string{"VERSION", "PATH", "APPLIED"}, rows, states)
		},
	}

	cmd.AddCommand(up, status)
	return cmd
}

func newRetryCmd(backendFn backendFunc, outputFn outputFunc) *cobra.Command {
	var account, sender string
	var limit int

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-queue FAILED jobs",
		Long: "Re-queue FAILED jobs with a fresh sender credential read from $" + credentialEnv + ".\n" +
			"Without --account every account's failed jobs are retried.",
		RunE: func(cmd *cobra.Command, args []string) error {
			credential := os.Getenv(credentialEnv)
			if credential == "" {
				return fmt.Errorf("$%s is not set", credentialEnv)
			}

			b, err := backendFn()
			if err != nil {
				return err
			}
			r, err := b.Retrier()
			if err != nil {
				return err
			}

			res, err := r.Retry(cmd.Context(), dispatch.RetryRequest{
				AccountID:     account,
				SenderAddress: sender,
				Credential:    credential,
				Limit:         limit,
			})
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(res.Retried)+len(res.Failed))
			for _, id := range res.Retried {
				rows = append(rows, []string{id, "PENDING", ""})
			}
			for _, f := range res.Failed {
				rows = append(rows, []string{f.JobID, "FAILED", f.Error})
			}

			out := outputFn(cmd)
			if err := out.Print([]string{"JOB_ID", "STATUS", "ERROR"}, rows, res); err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Retried %d job(s), %d failed", len(res.Retried), len(res.Failed)))
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Only retry this account's jobs")
	cmd.Flags().StringVar(&sender, "sender", "", "Sender address the credential belongs to")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs to retry")
	_ = cmd.MarkFlagRequired("sender")

	return cmd
}

func newReclaimCmd(backendFn backendFunc, outputFn outputFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Fail IN_PROGRESS jobs whose worker lease expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := backendFn()
			if err != nil {
				return err
			}
			r, err := b.Reclaimer()
			if err != nil {
				return err
			}
			n, err := r.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			outputFn(cmd).Success(fmt.Sprintf("Reclaimed %d job(s)", n))
			return nil
		},
	}
}

func newTokenCmd(backendFn backendFunc, outputFn outputFunc) *cobra.Command {
	var account, tier string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := backendFn()
			if err != nil {
				return err
			}
			m, err := b.Minter()
			if err != nil {
				return err
			}

			t := ratelimit.ParseTier(tier)
			tok, err := m.Mint(account, t, ttl)
			if err != nil {
				return err
			}

			out := outputFn(cmd)
			if out.jsonMode {
				return out.JSON(map[string]string{
					"account_id": account,
					"tier":       string(t),
					"token":      tok,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Account ID (the token subject)")
	cmd.Flags().StringVar(&tier, "tier", string(ratelimit.TierTrial), "Subscription tier")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}
