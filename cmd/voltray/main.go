package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voltray/voltray/internal/config"
	"github.com/voltray/voltray/internal/display"
	"github.com/voltray/voltray/internal/ipc"
	"github.com/voltray/voltray/internal/syncer"
	"github.com/voltray/voltray/internal/tui"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "voltray",
		Short:        "Adjust and watch the system output volume",
		Long:         "voltray connects to the voltrayd daemon and keeps an interactive volume surface in sync with the true system volume.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI()
		},
	}

	root.AddCommand(
		newOneShotCmd("up", "Raise the volume by one step", func(ctx context.Context, c *ipc.Client) (float64, error) {
			return c.VolumeUp(ctx)
		}),
		newOneShotCmd("down", "Lower the volume by one step", func(ctx context.Context, c *ipc.Client) (float64, error) {
			return c.VolumeDown(ctx)
		}),
		newOneShotCmd("get", "Print the current volume", func(ctx context.Context, c *ipc.Client) (float64, error) {
			return c.GetVolume(ctx)
		}),
		newSetCmd(),
	)
	return root
}

func newOneShotCmd(use, short string, op func(ctx context.Context, c *ipc.Client) (float64, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *ipc.Client) error {
				v, err := op(ctx, c)
				if err != nil {
					return err
				}
				fmt.Printf("%d%%\n", display.ToPercent(v))
				return nil
			})
		},
	}
}

func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <percent>",
		Short: "Set the volume to a percentage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pct, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid percentage %q", args[0])
			}
			return withClient(func(ctx context.Context, c *ipc.Client) error {
				v, err := c.SetVolume(ctx, float64(pct)/100)
				if err != nil {
					return err
				}
				fmt.Printf("%d%%\n", display.ToPercent(v))
				return nil
			})
		},
	}
}

// withClient dials the daemon, runs fn, and tears the connection down.
func withClient(fn func(ctx context.Context, c *ipc.Client) error) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	client, err := ipc.Dial(ctx, cfg.URL, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(context.Background(), client)
}

func runTUI() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	// Logs would tear up the rendered surface, so the interactive mode
	// runs with a no-op logger.
	logger := zap.NewNop()

	dialCtx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	client, err := ipc.Dial(dialCtx, cfg.URL, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	updates, notify := tui.NewUpdateChannel()
	s := syncer.New(logger, client, client.Events(), notify)

	runCtx, stopSync := context.WithCancel(context.Background())
	defer stopSync()
	go s.Run(runCtx)

	p := tea.NewProgram(tui.New(s, updates), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}
