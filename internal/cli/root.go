// Package cli implements absensictl, a terminal execution context over the
// same record store the API server uses.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"absensi/internal/app"
	"absensi/internal/attendance"
	"absensi/internal/logging"
)

// Opener opens the record store for one command.
type Opener func(ctx context.Context, logger *zap.Logger) (*app.Runtime, error)

// Options configures the command tree. Zero streams are discarded.
type Options struct {
	In       io.Reader
	Out      io.Writer
	Err      io.Writer
	Open     Opener
	Location *time.Location
}

type state struct {
	opts    Options
	verbose bool
	format  string
	logger  *zap.Logger
	in      *bufio.Reader
}

// NewRootCmd builds the absensictl command tree.
func NewRootCmd(o Options) *cobra.Command {
	if o.In == nil {
		o.In = strings.NewReader("")
	}
	if o.Out == nil {
		o.Out = io.Discard
	}
	if o.Err == nil {
		o.Err = io.Discard
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	s := &state{opts: o, logger: zap.NewNop(), in: bufio.NewReader(o.In)}

	root := &cobra.Command{
		Use:           "absensictl",
		Short:         "Inspect and maintain the attendance log",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if s.format != "text" && s.format != "json" {
				return fmt.Errorf("unknown output format %q", s.format)
			}
			if s.verbose {
				l, err := logging.New("dev")
				if err != nil {
					return err
				}
				s.logger = l
			}
			return nil
		},
	}
	root.SetIn(o.In)
	root.SetOut(o.Out)
	root.SetErr(o.Err)
	root.PersistentFlags().BoolVarP(&s.verbose, "verbose", "v", false, "log to stderr")
	root.PersistentFlags().StringVar(&s.format, "format", "text", "output format: text or json")

	root.AddCommand(
		newListCmd(s),
		newStatsCmd(s),
		newExportCmd(s),
		newImportCmd(s),
		newDeleteCmd(s),
		newClearCmd(s),
		newWatchCmd(s),
	)
	return root
}

// withRuntime opens the store, runs fn and closes it again.
func (s *state) withRuntime(cmd *cobra.Command, fn func(rt *app.Runtime) error) error {
	rt, err := s.opts.Open(cmd.Context(), s.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			s.logger.Warn("close store", zap.Error(cerr))
		}
	}()
	return fn(rt)
}

// confirmer asks on stdin unless yes is set.
func (s *state) confirmer(yes bool) attendance.Confirmer {
	if yes {
		return attendance.Confirmed
	}
	return attendance.ConfirmFunc(func(prompt string) bool {
		fmt.Fprintf(s.opts.Out, "%s [y/N] ", prompt)
		line, _ := s.in.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "ya", "yes":
			return true
		}
		return false
	})
}

func (s *state) printJSON(v any) error {
	enc := json.NewEncoder(s.opts.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (s *state) localTime(t time.Time) string {
	return t.In(s.opts.Location).Format("02/01/2006 15.04")
}
