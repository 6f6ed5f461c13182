package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/fieldsync/internal/client/config"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

// session carries what the command tree shares: the configuration, the
// lazily opened App and the standard streams.
type session struct {
	config *config.Config
	app    *App

	stdin  io.Reader
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
}

func newSession(c *config.Config, stdin io.Reader, out, errOut io.Writer) *session {
	return &session{
		config: c,
		stdin:  stdin,
		in:     bufio.NewReader(stdin),
		out:    out,
		errOut: errOut,
	}
}

// application opens the App on first use.
func (s *session) application(ctx context.Context) (*App, error) {
	if s.app != nil {
		return s.app, nil
	}
	app, err := NewApp(ctx, s.config, s.errOut)
	if err != nil {
		return nil, err
	}
	s.app = app
	return app, nil
}

func (s *session) close() error {
	if s.app == nil {
		return nil
	}
	err := s.app.Close()
	s.app = nil
	return err
}

// Execute runs one command line against c and releases everything it opened.
func Execute(ctx context.Context, c *config.Config, args []string, stdin io.Reader, out, errOut io.Writer) error {
	s := newSession(c, stdin, out, errOut)
	defer s.close()

	root := s.rootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (s *session) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "surveyctl",
		Short:         "Offline-first field survey client",
		Long:          "surveyctl records villages, sub-villages, houses, folders and photos on this device and synchronises them with the survey server whenever it is reachable.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(s.stdin)
	root.SetOut(s.out)
	root.SetErr(s.errOut)

	for _, t := range models.EntityTypes {
		root.AddCommand(s.entityCmd(t))
	}
	root.AddCommand(
		s.photoCmd(),
		s.syncCmd(),
		s.statusCmd(),
		s.watchCmd(),
		s.resetStoreCmd(),
		s.repairStoreCmd(),
		s.shellCmd(),
	)
	return root
}

func commandName(t models.EntityType) string {
	return strings.ReplaceAll(t.Singular(), "-", "")
}

func (s *session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}
