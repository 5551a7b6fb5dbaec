// Command watch follows a running server's queue in the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/cesargomez89/inkqueue/internal/logger"
	"github.com/cesargomez89/inkqueue/internal/syncclient"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "watch",
		Short:        "Follow the job and download queue of an inkqueue server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runWatch,
	}
	cmd.Flags().String("server", "http://127.0.0.1:8080", "base URL of the inkqueue server")
	cmd.Flags().String("log-level", "error", "debug, info, warn or error")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	server, _ := cmd.Flags().GetString("server")
	logLevel, _ := cmd.Flags().GetString("log-level")

	log := logger.New(logger.Config{Output: cmd.ErrOrStderr(), Level: logLevel, Format: "text"})
	ctrl := syncclient.New(syncclient.NewHTTPSource(server), syncclient.Options{Logger: log})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p := tea.NewProgram(newModel(ctrl, server), tea.WithAltScreen(), tea.WithContext(ctx))
	go func() {
		err := ctrl.Run(ctx)
		p.Send(stoppedMsg{err: err})
	}()

	final, err := p.Run()
	cancel()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal: %w", err)
	}
	if m, ok := final.(model); ok && m.err != nil && !errors.Is(m.err, context.Canceled) {
		return m.err
	}
	return nil
}
