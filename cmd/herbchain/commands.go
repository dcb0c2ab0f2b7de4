package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/herbchain/internal/adapters/server"
	servercommon "github.com/hylla/herbchain/internal/adapters/server/common"
	"github.com/hylla/herbchain/internal/app"
	"github.com/hylla/herbchain/internal/domain"
	"github.com/hylla/herbchain/internal/report"
)

type opener func(context.Context) (*session, error)

// withSession opens a session around fn and logs the command flow.
func withSession(open opener, name string, fn func(*cobra.Command, []string, *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		s, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := s.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close session: %w", closeErr)
			}
		}()
		s.logger.Debug("command flow start", "command", name)
		if err := fn(cmd, args, s); err != nil {
			s.logger.Debug("command flow failed", "command", name, "err", err)
			return err
		}
		s.logger.Debug("command flow complete", "command", name)
		return nil
	}
}

func newPathsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data, and database paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, configPath, dbPath, _, err := resolvePaths(*opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", configPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", dbPath)
			_, _ = fmt.Fprintf(out, "log_dir: %s\n", paths.LogDir)
			return nil
		},
	}
}

func newServeCommand(open opener) *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API, MCP tools, and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: withSession(open, "serve", func(cmd *cobra.Command, _ []string, s *session) error {
			srv := s.cfg.Server
			if strings.TrimSpace(bind) != "" {
				srv.Bind = bind
			}
			cfg := serveradapter.Config{
				HTTPBind:        srv.Bind,
				APIEndpoint:     srv.APIEndpoint,
				MCPEndpoint:     srv.MCPEndpoint,
				MetricsEndpoint: srv.MetricsEndpoint,
				ServerName:      s.appName,
				ServerVersion:   version,
			}
			s.logger.Info("serving ledger", "bind", cfg.HTTPBind, "api", cfg.APIEndpoint, "mcp", cfg.MCPEndpoint, "metrics", cfg.MetricsEndpoint, "driver", string(s.cfg.DriverName()))
			err := serveCommandRunner(cmd.Context(), cfg, serveradapter.Dependencies{
				Ledger:  servercommon.NewAppServiceAdapter(s.service),
				Metrics: s.metrics.Handler(),
				Ready:   s.ready,
			})
			if err != nil {
				s.logger.Error("serve failed", "err", err)
				return fmt.Errorf("run serve command: %w", err)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&bind, "bind", "", "override [server].bind")
	return cmd
}

func newActorsCommand(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actors",
		Short: "List or register supply-chain actors",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered actors",
		Args:  cobra.NoArgs,
		RunE: withSession(open, "actors list", func(cmd *cobra.Command, _ []string, s *session) error {
			actors, err := s.service.ListActors(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), report.ActorsTable(actors))
			return err
		}),
	})

	var in app.RegisterActorInput
	register := &cobra.Command{
		Use:   "register",
		Short: "Register one actor",
		Args:  cobra.NoArgs,
		RunE: withSession(open, "actors register", func(cmd *cobra.Command, _ []string, s *session) error {
			actor, err := s.service.RegisterActor(cmd.Context(), in)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", actor.ID, actor.Role)
			return err
		}),
	}
	f := register.Flags()
	f.StringVar(&in.ID, "id", "", "actor id")
	f.StringVar(&in.Name, "name", "", "display name")
	f.StringVar(&in.Role, "role", "", "collector | tester | manufacturer | packager | auditor")
	f.StringVar(&in.Company, "company", "", "company name")
	f.StringVar(&in.License, "license", "", "license number")
	for _, name := range []string{"id", "name", "role", "company", "license"} {
		_ = register.MarkFlagRequired(name)
	}
	cmd.AddCommand(register)
	return cmd
}

func newRecordsCommand(open opener) *cobra.Command {
	var (
		kind, status, owner string
		limit               int
	)
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List ledger records",
		Args:  cobra.NoArgs,
		RunE: withSession(open, "records", func(cmd *cobra.Command, _ []string, s *session) error {
			records, err := s.service.ListRecords(cmd.Context(), app.RecordFilter{
				Kind:    domain.RecordKind(strings.TrimSpace(kind)),
				Status:  domain.Status(strings.TrimSpace(status)),
				OwnerID: owner,
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), report.RecordsTable(records))
			return err
		}),
	}
	f := cmd.Flags()
	f.StringVar(&kind, "kind", "", "collection | test | manufacturing | packaging")
	f.StringVar(&status, "status", "", "status within the kind")
	f.StringVar(&owner, "owner", "", "owning actor id")
	f.IntVar(&limit, "limit", 0, "maximum rows (0 = no limit)")
	return cmd
}

func newTraceCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "trace <consumer-code>",
		Short: "Show the journey behind a consumer code as a tree",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(open, "trace", func(cmd *cobra.Command, args []string, s *session) error {
			tree, err := s.service.ResolveProvenance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), report.Trace(tree))
			return err
		}),
	}
}

func newReportCommand(open opener) *cobra.Command {
	var (
		style string
		width int
		raw   bool
	)
	cmd := &cobra.Command{
		Use:   "report [consumer-code]",
		Short: "Render a provenance certificate, or the ledger summary when no code is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: withSession(open, "report", func(cmd *cobra.Command, args []string, s *session) error {
			var markdown string
			if len(args) == 1 {
				tree, err := s.service.ResolveProvenance(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				markdown = report.ProvenanceMarkdown(tree)
			} else {
				summary, err := s.service.Summarize(cmd.Context())
				if err != nil {
					return err
				}
				markdown = report.SummaryMarkdown(summary)
			}
			out := markdown
			if !raw {
				rendered, err := report.NewRenderer(style, width).Render(markdown)
				if err != nil {
					return err
				}
				out = rendered
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		}),
	}
	f := cmd.Flags()
	f.StringVar(&style, "style", "dark", "glamour style (dark, light, notty, ...)")
	f.IntVar(&width, "width", 100, "wrap width")
	f.BoolVar(&raw, "raw", false, "print markdown without rendering")
	return cmd
}

func newEventsCommand(open opener) *cobra.Command {
	var (
		recordID string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List transaction-log entries, newest first",
		Args:  cobra.NoArgs,
		RunE: withSession(open, "events", func(cmd *cobra.Command, _ []string, s *session) error {
			events, err := s.service.ListChangeEvents(cmd.Context(), recordID, limit)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), report.EventsTable(events))
			return err
		}),
	}
	cmd.Flags().StringVar(&recordID, "record", "", "restrict to one record id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows (0 = no limit)")
	return cmd
}

func newHeadroomCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "headroom <batch-code>",
		Short: "Show accepted, consumed, and remaining quantity of a tested batch",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(open, "headroom", func(cmd *cobra.Command, args []string, s *session) error {
			headroom, err := s.service.BatchHeadroom(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), report.HeadroomTable(headroom))
			return err
		}),
	}
}

func newExportCommand(open opener) *cobra.Command {
	var (
		outPath       string
		includeEvents bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a JSON snapshot of actors, records, and events",
		Args:  cobra.NoArgs,
		RunE: withSession(open, "export", func(cmd *cobra.Command, _ []string, s *session) error {
			snap, err := s.service.ExportSnapshot(cmd.Context(), includeEvents)
			if err != nil {
				return fmt.Errorf("export snapshot: %w", err)
			}
			if err := snap.Validate(); err != nil {
				s.logger.Warn("snapshot failed integrity check", "err", err)
			}
			encoded, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return fmt.Errorf("encode snapshot json: %w", err)
			}
			encoded = append(encoded, '\n')

			if outPath == "-" {
				if _, err := cmd.OutOrStdout().Write(encoded); err != nil {
					return fmt.Errorf("write snapshot to stdout: %w", err)
				}
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create export output dir: %w", err)
			}
			if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
				return fmt.Errorf("write export file: %w", err)
			}
			s.logger.Info("snapshot exported", "path", outPath, "records", len(snap.Records), "events", len(snap.Events))
			return nil
		}),
	}
	cmd.Flags().StringVar(&outPath, "out", "-", "output file path ('-' for stdout)")
	cmd.Flags().BoolVar(&includeEvents, "events", true, "include the transaction log")
	return cmd
}
