package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/services"
	"github.com/fenilmodi00/giftlist-backend/sessions"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the active app generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(rootOpts, cmd)
		},
	}

	return cmd
}

func runVersion(opts *RootOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.sync.FetchTimeout)
	defer cancel()

	client, err := sessions.Dial(ctx, opts.SessionURL)
	if err != nil {
		return err
	}
	defer client.Close()

	reply, err := client.Request(ctx, models.SessionMessage{
		Type:      models.MessageGetVersion,
		RequestID: uuid.NewString(),
	})
	if err != nil {
		return err
	}
	if reply.Type == models.MessageError {
		return fmt.Errorf("coordinator: %s", reply.Error)
	}

	if opts.Format == "json" {
		writeJSON(cmd.OutOrStdout(), reply)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", reply.Version, reply.CacheID)
	return nil
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var assumeYes bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for a new app generation",
		Long: `Check for a waiting app generation and offer to activate it.
When nothing is waiting, offer a hard reset of every offline cache.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(rootOpts, assumeYes, cmd)
		},
	}
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "answer yes to every question")

	return cmd
}

func runUpdate(opts *RootOptions, assumeYes bool, cmd *cobra.Command) error {
	ctx := cmd.Context()

	dialCtx, cancel := context.WithTimeout(ctx, opts.sync.FetchTimeout)
	client, err := sessions.Dial(dialCtx, opts.SessionURL)
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()

	prompter := &linePrompter{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.ErrOrStderr(), assumeYes: assumeYes}
	reloader := &printReloader{out: cmd.OutOrStdout()}
	checker := services.NewUpdateChecker(client, prompter, reloader, 0)

	outcome, err := checker.CheckForUpdate(ctx)
	if err != nil {
		return err
	}

	switch outcome {
	case services.OutcomeDeclined:
		fmt.Fprintln(cmd.OutOrStdout(), "Update postponed.")
	case services.OutcomeUpToDate:
		fmt.Fprintln(cmd.OutOrStdout(), "Already up to date.")
	}
	return nil
}

// linePrompter asks yes/no questions on a line-oriented stream
type linePrompter struct {
	in        *bufio.Reader
	out       io.Writer
	assumeYes bool
}

func (p *linePrompter) Confirm(ctx context.Context, question string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N] ", question)
	if p.assumeYes {
		fmt.Fprintln(p.out, "y")
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return false, nil
		}
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes" || answer == "a" || answer == "ano", nil
}

// printReloader stands in for a page reload: a CLI session simply reports
// the generation it would now run on
type printReloader struct {
	out io.Writer
}

func (r *printReloader) Reload(ctx context.Context, version string) error {
	fmt.Fprintf(r.out, "Now running %s.\n", version)
	return nil
}
