package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/DavNight89/adminEstate/internal/estate/backend"
	"github.com/DavNight89/adminEstate/internal/estate/dedup"
	"github.com/DavNight89/adminEstate/internal/estate/loadtest"
	"github.com/DavNight89/adminEstate/internal/estate/migrate"
	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/seed"
	"github.com/DavNight89/adminEstate/internal/ui"
)

var backupCmd = &cobra.Command{
	Use:     "backup",
	GroupID: "maint",
	Short:   "List and prune the snapshots written before cleaning",
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots in the backup directory, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backups, err := dedup.Backups(cfg.Data.BackupDir)
		if err != nil {
			return err
		}
		return render(cmd, backups, func(w io.Writer) {
			if len(backups) == 0 {
				fmt.Fprintf(w, "No backups in %s\n", cfg.Data.BackupDir)
				return
			}
			printBackups(w, backups)
		})
	},
}

func printBackups(w io.Writer, backups []dedup.Backup) {
	rows := make([][]string, len(backups))
	for i, b := range backups {
		rows[i] = []string{
			filepath.Base(b.Path),
			b.Kind,
			b.At.Local().Format("2006-01-02 15:04:05"),
			humanize.Time(b.At),
			humanize.Bytes(uint64(b.Size)),
		}
	}
	fmt.Fprintln(w, ui.Table([]string{"File", "Kind", "Taken", "Age", "Size"}, rows))
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete snapshots older than a cutoff",
	Long: `Delete every snapshot taken before --before. The cutoff accepts a
duration ("720h"), a date ("2024-01-31") or a phrase ("2 weeks ago",
"last monday").

Examples:
  estate backup prune --before "2 weeks ago"
  estate backup prune --before 2024-01-31`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		before, _ := cmd.Flags().GetString("before")
		cutoff, err := dedup.ParseCutoff(before, time.Now())
		if err != nil {
			return err
		}
		removed, err := dedup.Prune(cfg.Data.BackupDir, cutoff)
		if err != nil {
			return err
		}
		return render(cmd, removed, func(w io.Writer) {
			fmt.Fprintf(w, "%s Removed %d snapshot(s) taken before %s\n",
				ui.RenderPassIcon(), len(removed), cutoff.Format("2006-01-02 15:04"))
			if len(removed) > 0 {
				printBackups(w, removed)
			}
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	GroupID: "maint",
	Short:   "Copy every collection from one store to another",
	Long: `Upsert every record of the selected collections from --from into --to.
Records only present in the target are kept. Tenants without a property id
are linked to the property with the same name.

Examples:
  estate migrate --from json --to db
  estate migrate --from csv --to db --kinds properties,tenants --dry-run
  estate migrate --from json --to db --backup`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fromName, _ := cmd.Flags().GetString("from")
		toName, _ := cmd.Flags().GetString("to")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		withBackup, _ := cmd.Flags().GetBool("backup")
		kindsFlag, _ := cmd.Flags().GetString("kinds")

		var kinds []schema.Kind
		for _, name := range splitList(kindsFlag) {
			kind, err := schema.ParseKind(name)
			if err != nil {
				return err
			}
			kinds = append(kinds, kind)
		}

		from, to, err := registry.Pair(cmd.Context(), fromName, toName)
		if err != nil {
			return err
		}
		opts := migrate.Options{Kinds: kinds, DryRun: dryRun, Logger: logger}
		if withBackup {
			if from.Name() != backend.JSON {
				return fmt.Errorf("--backup copies the JSON document; the source is %s", from.Name())
			}
			opts.BackupPath = cfg.Data.JSONPath
		}

		res, migErr := migrate.Migrate(cmd.Context(), from, to, opts)
		if res != nil {
			if err := render(cmd, res, func(w io.Writer) { printMigration(w, res) }); err != nil {
				return err
			}
		}
		return migErr
	},
}

func printMigration(w io.Writer, res *migrate.Result) {
	title := fmt.Sprintf("Migrate %s → %s", res.From, res.To)
	if res.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintf(w, "\n%s\n", ui.Header(title))
	if res.BackupCreated != "" {
		fmt.Fprintf(w, "Backup: %s\n", res.BackupCreated)
	}
	rows := make([][]string, len(res.Kinds))
	for i, k := range res.Kinds {
		status := ui.RenderPass(ui.IconPass)
		switch {
		case k.Error != "":
			status = ui.RenderFail(ui.IconFail)
		case !k.Verified && !res.DryRun && k.Read > 0:
			status = ui.RenderWarn(ui.IconWarn)
		}
		rows[i] = []string{
			status,
			k.Kind.String(),
			strconv.Itoa(k.Read),
			strconv.Itoa(k.Inserted),
			strconv.Itoa(k.Updated),
			strconv.Itoa(k.Linked),
			k.Error,
		}
	}
	fmt.Fprintln(w, ui.Table([]string{"", "Kind", "Read", "Inserted", "Updated", "Linked", "Error"}, rows))
	fmt.Fprintf(w, "Total records read: %d\n\n", res.Total())
}

var seedCmd = &cobra.Command{
	Use:     "seed",
	GroupID: "maint",
	Short:   "Generate demo data",
	Long: `Generate a deterministic portfolio of properties, tenants, work orders and
transactions and write it to a store. The same --seed always produces the
same data. Existing collections are replaced.

Examples:
  estate seed
  estate seed --properties 20 --duplicates 3 --store csv`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := seed.DefaultOptions()
		f := cmd.Flags()
		opts.Seed, _ = f.GetInt64("seed")
		opts.Properties, _ = f.GetInt("properties")
		opts.TenantsPerProperty, _ = f.GetInt("tenants-per-property")
		opts.WorkOrders, _ = f.GetInt("work-orders")
		opts.Transactions, _ = f.GetInt("transactions")
		opts.Duplicates, _ = f.GetInt("duplicates")
		opts.PortalShare, _ = f.GetFloat64("portal-share")

		data, err := seed.Generate(opts)
		if err != nil {
			return err
		}
		name, _ := f.GetString("store")
		a, err := registry.Get(cmd.Context(), name)
		if err != nil {
			return err
		}
		if err := seed.Write(cmd.Context(), a, data); err != nil {
			return err
		}

		counts := make([]string, 0, len(data))
		for _, kind := range schema.Kinds() {
			if n := len(data[kind]); n > 0 {
				counts = append(counts, fmt.Sprintf("%d %s", n, kind))
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %d records to %s: %s\n",
			ui.RenderPassIcon(), data.Count(), a.Name(), strings.Join(counts, ", "))
		return nil
	},
}

var loadtestCmd = &cobra.Command{
	Use:     "loadtest <kind>",
	GroupID: "maint",
	Short:   "Measure a store under concurrent readers and writers",
	Long: `Run concurrent clients against one collection, report read and write
latency percentiles and check that no record was lost or duplicated.

Examples:
  estate loadtest properties --store db --clients 50 --ops 40
  estate loadtest tenants --write-share 0.5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			return err
		}
		opts := loadtest.DefaultOptions()
		opts.Kind = kind
		opts.Logger = logger
		f := cmd.Flags()
		opts.Clients, _ = f.GetInt("clients")
		opts.OpsPerClient, _ = f.GetInt("ops")
		opts.WriteShare, _ = f.GetFloat64("write-share")
		opts.RPS, _ = f.GetFloat64("rps")

		name, _ := f.GetString("store")
		a, err := registry.Get(cmd.Context(), name)
		if err != nil {
			return err
		}
		report, err := loadtest.Run(cmd.Context(), a, opts)
		if err != nil {
			return err
		}
		if err := render(cmd, report, func(w io.Writer) { printLoadReport(w, report) }); err != nil {
			return err
		}
		if !report.OK() {
			return fmt.Errorf("load test found %d error(s) and %d integrity problem(s)", report.Errors, len(report.Problems))
		}
		return nil
	},
}

func printLoadReport(w io.Writer, r *loadtest.Report) {
	fmt.Fprintf(w, "\n%s\n", ui.Header(fmt.Sprintf("Load test: %s in %s, %d clients", r.Kind, r.Store, r.Clients)))
	row := func(label string, s loadtest.LatencyStats) []string {
		return []string{label, strconv.Itoa(s.Count), s.Min.String(), s.P50.String(), s.Mean.String(), s.P95.String(), s.P99.String(), s.Max.String()}
	}
	fmt.Fprintln(w, ui.Table(
		[]string{"Op", "Count", "Min", "P50", "Mean", "P95", "P99", "Max"},
		[][]string{row("read", r.Reads), row("write", r.Writes)},
	))
	fmt.Fprintln(w, ui.KV([][2]string{
		{"Records", strconv.Itoa(r.Records)},
		{"Errors", strconv.Itoa(r.Errors)},
		{"Elapsed", r.Elapsed.Round(time.Millisecond).String()},
	}))
	for _, p := range r.Problems {
		fmt.Fprintf(w, "%s %s\n", ui.RenderFailIcon(), p)
	}
	fmt.Fprintln(w)
}

func init() {
	addFormatFlag(backupListCmd)
	addFormatFlag(backupPruneCmd)
	backupPruneCmd.Flags().String("before", "", `cutoff, e.g. "2 weeks ago" or 2024-01-31`)
	_ = backupPruneCmd.MarkFlagRequired("before")
	backupCmd.AddCommand(backupListCmd, backupPruneCmd)

	addFormatFlag(migrateCmd)
	migrateCmd.Flags().String("from", backend.JSON, "source store")
	migrateCmd.Flags().String("to", backend.DB, "target store")
	migrateCmd.Flags().String("kinds", "", "comma separated collections (default: all)")
	migrateCmd.Flags().Bool("dry-run", false, "count without writing")
	migrateCmd.Flags().Bool("backup", false, "copy the JSON document aside before migrating")

	defaults := seed.DefaultOptions()
	seedCmd.Flags().String("store", backend.JSON, "store to write: json, csv or db")
	seedCmd.Flags().Int64("seed", defaults.Seed, "random seed")
	seedCmd.Flags().Int("properties", defaults.Properties, "number of properties")
	seedCmd.Flags().Int("tenants-per-property", defaults.TenantsPerProperty, "maximum tenants per property")
	seedCmd.Flags().Int("work-orders", defaults.WorkOrders, "number of work orders")
	seedCmd.Flags().Int("transactions", defaults.Transactions, "number of transactions")
	seedCmd.Flags().Int("duplicates", defaults.Duplicates, "extra copies of existing properties")
	seedCmd.Flags().Float64("portal-share", defaults.PortalShare, "fraction of work orders from the tenant portal")

	lt := loadtest.DefaultOptions()
	addStoreFlag(loadtestCmd)
	addFormatFlag(loadtestCmd)
	loadtestCmd.Flags().Int("clients", lt.Clients, "concurrent clients")
	loadtestCmd.Flags().Int("ops", lt.OpsPerClient, "operations per client")
	loadtestCmd.Flags().Float64("write-share", lt.WriteShare, "fraction of operations that update a record")
	loadtestCmd.Flags().Float64("rps", 0, "cap on operations per second across all clients (0: unlimited)")

	rootCmd.AddCommand(backupCmd, migrateCmd, seedCmd, loadtestCmd)
}
