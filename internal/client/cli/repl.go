package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// runREPL starts a simple read-eval-print loop.
//
// It reads a line from reader, splits it into fields and hands them to exec.
// Errors are reported back to the user and the loop continues. The loop exits
// on EOF or when the user types "exit" or "quit".
//
// The prompt shows the current status from statusFn, for example:
//
//	survey (online, 3 pending)>
func runREPL(ctx context.Context, exec func(ctx context.Context, args []string) error, statusFn func() string, reader *bufio.Reader, w io.Writer) {
	for {
		fmt.Fprintf(w, "survey %s> ", statusFn())
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(w)
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return
		case "shell":
			fmt.Fprintln(w, "already in the shell")
			continue
		}

		if err := exec(ctx, parts); err != nil {
			fmt.Fprintln(w, "error:", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *session) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session sharing one open store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := s.application(ctx)
			if err != nil {
				return err
			}
			if err := app.start(ctx); err != nil {
				return err
			}
			app.probe(ctx)

			fmt.Fprintln(s.out, "Welcome to the survey shell (type 'help' for commands)")

			// Commands prompt on s.in too, so the loop shares its reader.
			exec := func(ctx context.Context, line []string) error {
				// Flag values live in the command tree, so each line gets a
				// fresh one.
				root := s.rootCmd()
				root.SetArgs(line)
				return root.ExecuteContext(ctx)
			}
			runREPL(ctx, exec, func() string { return promptStatus(ctx, app) }, s.in, s.out)
			return nil
		},
	}
}

func promptStatus(ctx context.Context, a *App) string {
	conn := "offline"
	if a.monitor.Online() {
		conn = "online"
	}
	st, err := a.bus.Refresh(ctx)
	if err != nil {
		st = a.bus.Current()
	}
	if st.IsSyncing {
		return fmt.Sprintf("(%s, syncing)", conn)
	}
	return fmt.Sprintf("(%s, %d pending)", conn, st.TotalPending)
}
