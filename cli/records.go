package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/services"
	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var who string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the gift list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, who, cmd)
		},
	}
	cmd.Flags().StringVar(&who, "who", services.FilterAll, "only gifts for this person (everyone when empty)")

	return cmd
}

func runList(opts *RootOptions, who string, cmd *cobra.Command) error {
	store := opts.newStore()
	defer store.Close()

	gifts, err := store.FetchAll(cmd.Context())
	if err != nil {
		return err
	}
	writeView(cmd.OutOrStdout(), services.Render(gifts, who, opts.taxonomy), opts.Format)
	return nil
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var who string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show the gift list and keep it up to date",
		Long: `Show the gift list and refresh it in the background.

Commands on stdin:
  p       pause (as if the page were hidden)
  r       resume and refresh at once
  f NAME  filter by person ("f" alone clears the filter)
  q       quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, who, cmd)
		},
	}
	cmd.Flags().StringVar(&who, "who", services.FilterAll, "only gifts for this person (everyone when empty)")

	return cmd
}

func runWatch(opts *RootOptions, who string, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sink := newTextSink(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts.Format, false)
	engine, store := opts.newEngine(sink)
	defer store.Close()

	engine.SetFilter(who)
	sink.setRenders(true)

	// a failed first load is already on screen; keep polling
	_ = engine.Start(ctx)
	defer func() {
		engine.Stop()
		engine.Wait()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch {
			case line == "":
			case line == "q":
				return nil
			case line == "p":
				engine.SetVisible(false)
			case line == "r":
				engine.SetVisible(true)
			case line == "f":
				engine.SetFilter(services.FilterAll)
			case strings.HasPrefix(line, "f "):
				engine.SetFilter(strings.TrimSpace(strings.TrimPrefix(line, "f ")))
			default:
				fmt.Fprintf(cmd.ErrOrStderr(), "unknown command %q (p, r, f [NAME], q)\n", line)
			}
		}
	}
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	var gift models.Gift

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a gift",
		Long: `Add a gift to the list. The list is shown again once the store
has had time to settle; the new gift is never shown before that.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(rootOpts, cmd, false, func(ctx context.Context, engine *services.SyncEngine) error {
				return engine.AddRecord(ctx, gift)
			})
		},
	}
	cmd.Flags().StringVar(&gift.Who, "who", "", "who the gift is for (required)")
	cmd.Flags().StringVar(&gift.FromWhom, "from", "", "who gives it")
	cmd.Flags().StringVar(&gift.Item, "item", "", "what the gift is (required)")
	cmd.Flags().StringVar(&gift.Link, "link", "", "where to buy it")
	cmd.Flags().StringVar(&gift.Status, "status", "Vyjasnit", "initial status")

	return cmd
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <who> <item> <status>",
		Short: "Set the status of a gift",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(rootOpts, cmd, true, func(ctx context.Context, engine *services.SyncEngine) error {
				return engine.ApplyOptimisticStatusChange(ctx, args[0], args[1], args[2])
			})
		},
	}

	return cmd
}

// NewToggleCommand creates the toggle command.
func NewToggleCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toggle <who> <item>",
		Short: "Move a gift to its next status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(rootOpts, cmd, true, func(ctx context.Context, engine *services.SyncEngine) error {
				next, err := engine.AdvanceStatus(ctx, args[0], args[1])
				if err == nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s / %s -> %s\n", args[0], args[1], next)
				}
				return err
			})
		},
	}

	return cmd
}

// runEdit loads the list when needed, runs one edit, waits for its
// background save and prints the resulting list
func runEdit(opts *RootOptions, cmd *cobra.Command, load bool, edit func(context.Context, *services.SyncEngine) error) error {
	ctx := cmd.Context()
	sink := newTextSink(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts.Format, false)
	engine, store := opts.newEngine(sink)
	defer store.Close()

	if load {
		if err := engine.Refresh(ctx, false); err != nil {
			return reported(err)
		}
	}
	if err := edit(ctx, engine); err != nil {
		return reported(err)
	}
	engine.Wait()

	writeView(cmd.OutOrStdout(), engine.View(), opts.Format)
	if n := sink.errorCount(); n > 0 {
		return reported(fmt.Errorf("%d background error(s)", n))
	}
	return nil
}
