package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"absensi/internal/app"
	"absensi/internal/attendance"
	"absensi/internal/transfer"
)

func newListCmd(s *state) *cobra.Command {
	var query, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withRuntime(cmd, func(rt *app.Runtime) error {
				records := rt.Admin.List(query, status)
				if s.format == "json" {
					return s.printJSON(records)
				}
				tw := tabwriter.NewWriter(s.opts.Out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAMA\tTELP\tSTATUS\tWAKTU\tFOTO")
				for _, r := range records {
					foto := "-"
					if r.HasPhoto() {
						foto = "ya"
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Nama, r.Telp, r.Status, s.localTime(r.CreatedAt), foto)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(s.opts.Out, "%d data\n", len(records))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "search nama or telp")
	cmd.Flags().StringVar(&status, "status", attendance.FilterAll, "Menunggu, Diterima, Ditolak or all")
	return cmd
}

func newStatsCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count records per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withRuntime(cmd, func(rt *app.Runtime) error {
				st := rt.Admin.Stats()
				if s.format == "json" {
					return s.printJSON(st)
				}
				fmt.Fprintf(s.opts.Out, "Total: %d\n", st.Total)
				for _, status := range attendance.Statuses {
					fmt.Fprintf(s.opts.Out, "%s: %d\n", status, st.ByStatus[status])
				}
				return nil
			})
		},
	}
}

func newExportCmd(s *state) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:       "export json|pdf|xlsx",
		Short:     "Write a backup or report file",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"json", "pdf", "xlsx"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withRuntime(cmd, func(rt *app.Runtime) error {
				records := rt.Store.Records()
				now := rt.Store.Now().In(s.opts.Location)

				var (
					art transfer.Artifact
					err error
				)
				switch strings.ToLower(args[0]) {
				case "json":
					art, err = transfer.ExportJSON(records, now)
				case "pdf":
					art, err = transfer.ExportPDF(records, now)
				case "xlsx":
					art, err = transfer.ExportXLSX(records, now)
				default:
					return fmt.Errorf("unknown export format %q", args[0])
				}
				if err != nil {
					return err
				}

				if output == "-" {
					_, err := s.opts.Out.Write(art.Data)
					return err
				}
				path := output
				if path == "" {
					path = art.Filename
				} else if fi, err := os.Stat(path); err == nil && fi.IsDir() {
					path = filepath.Join(path, art.Filename)
				}
				if err := os.WriteFile(path, art.Data, 0o644); err != nil {
					return err
				}
				s.logger.Info("exported", zap.String("path", path), zap.Int("records", len(records)))
				fmt.Fprintf(s.opts.Out, "%d data ditulis ke %s\n", len(records), path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file or directory to write, - for stdout")
	return cmd
}

func newImportCmd(s *state) *cobra.Command {
	var (
		mode string
		yes  bool
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Load a JSON backup or a PDF report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := attendance.ParseImportMode(mode)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return s.withRuntime(cmd, func(rt *app.Runtime) error {
				batch, err := transfer.Import(filepath.Base(args[0]), "", data, rt.Store, rt.Store.Now())
				if errors.Is(err, transfer.ErrNoDataFound) {
					fmt.Fprintln(s.opts.Out, err.Error())
					return nil
				}
				if err != nil {
					return err
				}
				n, err := rt.Admin.ApplyImport(cmd.Context(), batch, m, s.confirmer(yes))
				if err != nil {
					return err
				}
				fmt.Fprintf(s.opts.Out, "%d data diimpor (%s, %s)\n", n, batch.Format, m)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(attendance.ImportReplace), "replace or merge")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newDeleteCmd(s *state) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			return s.withRuntime(cmd, func(rt *app.Runtime) error {
				if _, ok := rt.Store.Get(id); !ok {
					fmt.Fprintf(s.opts.Out, "data %d tidak ditemukan\n", id)
					return nil
				}
				if err := rt.Admin.Delete(cmd.Context(), id, s.confirmer(yes)); err != nil {
					return err
				}
				fmt.Fprintf(s.opts.Out, "data %d dihapus\n", id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newClearCmd(s *state) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withRuntime(cmd, func(rt *app.Runtime) error {
				if err := rt.Admin.ClearAll(cmd.Context(), s.confirmer(yes)); err != nil {
					return err
				}
				fmt.Fprintln(s.opts.Out, "semua data dihapus")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newWatchCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print a line whenever another process changes the log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withRuntime(cmd, func(rt *app.Runtime) error {
				ctx := cmd.Context()
				events := make(chan attendance.Event, 16)
				unsubscribe := rt.Store.Subscribe(func(ev attendance.Event) {
					select {
					case events <- ev:
					default:
					}
				})
				defer unsubscribe()

				stop, err := rt.Store.Watch(ctx)
				if err != nil {
					return err
				}
				defer stop()

				s.emit(watchLine{Key: rt.Store.Key(), Records: rt.Store.Len()}, "watching %s (%d data)\n")
				for {
					select {
					case <-ctx.Done():
						return nil
					case ev := <-events:
						if !ev.External {
							continue
						}
						s.emit(watchLine{Key: rt.Store.Key(), Records: ev.Records, Changed: true}, "%s changed (%d data)\n")
					}
				}
			})
		},
	}
}

type watchLine struct {
	Key     string `json:"key"`
	Records int    `json:"records"`
	Changed bool   `json:"changed"`
}

func (s *state) emit(l watchLine, text string) {
	if s.format == "json" {
		_ = s.printJSON(l)
		return
	}
	fmt.Fprintf(s.opts.Out, text, l.Key, l.Records)
}
