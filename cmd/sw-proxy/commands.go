package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/kevohmutwiri9-creator/Klaus/internal/config"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/manifest"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/worker"
	"github.com/spf13/cobra"
)

func newInstallCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Pre-populate the current version's partitions and exit",
		Long: `Installs and activates a worker for the manifest version: critical, static
and image resources are fetched into their partitions and partitions of
other versions are deleted. Useful before the first serve against redis.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.install(ctx, worker.NewRegistration(true, a.background))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RESOURCE\tPARTITION\tSTATUS")
			for _, r := range report.Results {
				status := "stored"
				if r.Err != nil {
					status = "failed: " + r.Err.Error()
				}
				if r.Critical {
					status += " (critical)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.URL, r.Partition, status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "version %s: %d stored, %d failed\n", report.Version, report.Stored, report.Failed)

			if failed := report.CriticalFailures(); len(failed) > 0 {
				return fmt.Errorf("%d critical resources not cached", len(failed))
			}
			return nil
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Evict expired dynamic entries once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := a.newWorker()
			if err != nil {
				return err
			}
			evicted, err := w.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries evicted\n", w.Names().Dynamic, evicted)
			return nil
		},
	}
}

func newPartitionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "partitions",
		Short: "List stored partitions and their entry counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := a.newWorker()
			if err != nil {
				return err
			}
			infos, err := w.Partitions(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PARTITION\tENTRIES\tCURRENT")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%d\t%t\n", info.Name, info.Entries, info.Current)
			}
			return tw.Flush()
		},
	}
}

func newManifestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest",
		Short: "Print the effective manifest as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.manifestPath
			if path == "" {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				path = cfg.ManifestPath
			}

			m, err := manifest.Load(path)
			if err != nil {
				return err
			}
			data, err := m.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
