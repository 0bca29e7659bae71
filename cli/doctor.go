package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fenilmodi00/giftlist-backend/database"
	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/sessions"
	"github.com/spf13/cobra"
)

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand(rootOpts *RootOptions) *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the store, the session hub and the database answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(rootOpts, databaseURL, cmd)
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database", rootOpts.databaseURL, "Postgres url to check (skipped when empty)")

	return cmd
}

type doctorCheck struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func runDoctor(opts *RootOptions, databaseURL string, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Gift list health check - %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintln(out, strings.Repeat("=", 50))

	checks := []doctorCheck{
		{name: "Record store", run: func(ctx context.Context) (string, error) {
			store := opts.newStore()
			defer store.Close()
			gifts, err := store.FetchAll(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d gifts", len(gifts)), nil
		}},
		{name: "Session hub", run: func(ctx context.Context) (string, error) {
			client, err := sessions.Dial(ctx, opts.SessionURL)
			if err != nil {
				return "", err
			}
			defer client.Close()
			reply, err := client.Request(ctx, models.SessionMessage{Type: models.MessageGetVersion})
			if err != nil {
				return "", err
			}
			if reply.Type == models.MessageError {
				return "", fmt.Errorf("%s", reply.Error)
			}
			return "generation " + reply.Version, nil
		}},
	}
	if databaseURL != "" {
		checks = append(checks, doctorCheck{name: "Database", run: func(ctx context.Context) (string, error) {
			dbConfig := opts.tuning.Database
			db, err := database.Open(databaseURL, &dbConfig)
			if err != nil {
				return "", err
			}
			defer db.Close()
			var gifts int
			if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM gifts").Scan(&gifts); err != nil {
				return "", err
			}
			return fmt.Sprintf("%d stored gifts", gifts), nil
		}})
	}

	passed := 0
	for _, check := range checks {
		ctx, cancel := context.WithTimeout(cmd.Context(), opts.sync.FetchTimeout)
		detail, err := check.run(ctx)
		cancel()

		if err != nil {
			fmt.Fprintf(out, "%-14s FAILED (%v)\n", check.name+":", err)
			continue
		}
		fmt.Fprintf(out, "%-14s OK (%s)\n", check.name+":", detail)
		passed++
	}

	fmt.Fprintln(out, strings.Repeat("-", 50))
	percent := float64(passed) / float64(len(checks)) * 100
	switch {
	case passed == len(checks):
		fmt.Fprintf(out, "HEALTHY: %d/%d checks passed (%.0f%%)\n", passed, len(checks), percent)
		return nil
	case passed >= len(checks)/2:
		fmt.Fprintf(out, "DEGRADED: %d/%d checks passed (%.0f%%)\n", passed, len(checks), percent)
	default:
		fmt.Fprintf(out, "UNHEALTHY: %d/%d checks passed (%.0f%%)\n", passed, len(checks), percent)
	}
	return reported(fmt.Errorf("%d of %d checks failed", len(checks)-passed, len(checks)))
}
