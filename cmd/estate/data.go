package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/DavNight89/adminEstate/internal/estate/analytics"
	"github.com/DavNight89/adminEstate/internal/estate/backend"
	"github.com/DavNight89/adminEstate/internal/estate/dedup"
	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/store"
	"github.com/DavNight89/adminEstate/internal/ui"
)

func addStoreFlag(cmd *cobra.Command) {
	cmd.Flags().String("store", backend.JSON, "store to read: json, csv or db")
}

var analyzeCmd = &cobra.Command{
	Use:     "analyze <kind>",
	GroupID: "data",
	Short:   "Report duplicate records in a collection",
	Long: `Group a collection by its natural key, or by --keys, and list every key
held by more than one record. Nothing is modified.

Examples:
  estate analyze properties
  estate analyze tenants --keys name,email --store csv
  estate analyze properties --format yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("store")
		a, err := registry.Get(cmd.Context(), name)
		if err != nil {
			return err
		}
		keys, _ := cmd.Flags().GetString("keys")
		records, err := store.LoadOrEmpty(cmd.Context(), a, kind, logger)
		if err != nil && !errors.Is(err, store.ErrStorageUnavailable) {
			return fmt.Errorf("failed to load %s from %s: %w", kind, a.Name(), err)
		}
		report, err := dedup.Analyze(kind, records, splitList(keys))
		if err != nil {
			return err
		}
		return render(cmd, report, func(w io.Writer) { printReport(w, a.Name(), report) })
	},
}

func printReport(w io.Writer, storeName string, report dedup.Report) {
	fmt.Fprintf(w, "\n%s\n", ui.Header(fmt.Sprintf("Duplicates in %s (%s)", report.Kind, storeName)))
	fmt.Fprintln(w, ui.KV([][2]string{
		{"Key", strings.Join(report.KeyFields, ", ")},
		{"Records", strconv.Itoa(report.Total)},
		{"Distinct keys", strconv.Itoa(report.DistinctKeys)},
		{"Duplicates", strconv.Itoa(report.DuplicateRecords)},
	}))
	if !report.HasDuplicates() {
		fmt.Fprintf(w, "\n%s No duplicates\n\n", ui.RenderPassIcon())
		return
	}

	var rows [][]string
	for _, g := range report.Groups {
		parts := make([]string, 0, len(report.KeyFields))
		for _, f := range report.KeyFields {
			parts = append(parts, g.Key[f])
		}
		for i, m := range g.Members {
			key := ""
			if i == 0 {
				key = strings.Join(parts, " / ")
			}
			rows = append(rows, []string{
				key,
				m.ID,
				schema.FormatValue(m.UpdatedAt),
				strconv.Itoa(m.Completeness),
			})
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, ui.Table([]string{"Key", "ID", "Updated", "Fields"}, rows))
	fmt.Fprintln(w)
}

var cleanCmd = &cobra.Command{
	Use:     "clean <kind>",
	GroupID: "data",
	Short:   "Remove duplicate records from a collection",
	Long: `Keep one record per key and save the collection back to the same store.
The original collection is written to the backup directory first.

Strategies:
  keep_latest          highest updated_at, then created_at (default)
  keep_most_complete   most non-empty fields
  keep_first           first occurrence

Asks for confirmation unless --yes is given.

Examples:
  estate clean properties --store csv
  estate clean tenants --keys name,email --strategy keep_most_complete --yes`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			return err
		}
		strategyFlag, _ := cmd.Flags().GetString("strategy")
		strategy, err := dedup.ParseStrategy(strategyFlag)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("store")
		a, err := registry.Get(cmd.Context(), name)
		if err != nil {
			return err
		}
		keysFlag, _ := cmd.Flags().GetString("keys")
		keys := splitList(keysFlag)

		records, err := store.LoadOrEmpty(cmd.Context(), a, kind, logger)
		if err != nil && !errors.Is(err, store.ErrStorageUnavailable) {
			return fmt.Errorf("failed to load %s from %s: %w", kind, a.Name(), err)
		}
		report, err := dedup.Analyze(kind, records, keys)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printReport(out, a.Name(), report)
		if !report.HasDuplicates() {
			return nil
		}

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			if !ui.IsTerminal(os.Stdin) {
				return errors.New("refusing to remove duplicates without a terminal; pass --yes")
			}
			confirmed := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Remove %d duplicate %s using %s?", report.DuplicateRecords, kind, strategy)).
				Affirmative("Remove").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil {
				return fmt.Errorf("confirmation failed: %w", err)
			}
			if !confirmed {
				fmt.Fprintf(out, "%s Cancelled, nothing changed\n", ui.RenderWarnIcon())
				return nil
			}
		}

		res, err := dedup.NewCleaner(cfg.Data.BackupDir, logger).CleanStore(cmd.Context(), a, kind, keys, strategy)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s Removed %d of %d %s (%d remain)\n",
			ui.RenderPassIcon(), res.RemovedCount, res.OriginalCount, kind, res.CleanedCount)
		if res.BackupPath != "" {
			fmt.Fprintf(out, "   Backup: %s\n", res.BackupPath)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "data",
	Short:   "Show portfolio, tenant, transaction and work order figures",
	Long: `Compute the dashboard figures from one store: occupancy, revenue, cap
rates by property type, the top five properties, correlations between the
numeric property columns, rent and balances, income and expenses, and open
maintenance.

Examples:
  estate stats
  estate stats --store db --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("store")
		a, err := registry.Get(cmd.Context(), name)
		if err != nil {
			return err
		}
		all, err := loadAll(cmd.Context(), a)
		if err != nil {
			return err
		}
		dash := analytics.Build(all)
		return render(cmd, dash, func(w io.Writer) { printDashboard(w, a.Name(), dash) })
	},
}

func money(v float64) string { return fmt.Sprintf("$%.2f", v) }

func pct(v float64) string { return fmt.Sprintf("%.1f%%", v) }

func printDashboard(w io.Writer, storeName string, d analytics.Dashboard) {
	s := d.Portfolio.Summary
	fmt.Fprintf(w, "\n%s\n", ui.Header("Portfolio ("+storeName+")"))
	fmt.Fprintln(w, ui.KV([][2]string{
		{"Properties", strconv.Itoa(s.TotalProperties)},
		{"Units", fmt.Sprintf("%d (%d occupied, %d vacant)", s.TotalUnits, s.OccupiedUnits, s.VacantUnits)},
		{"Occupancy", pct(s.OccupancyRate)},
		{"Portfolio value", money(s.TotalPortfolioValue)},
		{"Monthly revenue", money(s.TotalMonthlyRevenue)},
		{"Average cap rate", pct(s.AvgCapRate)},
	}))

	if len(d.Portfolio.ByType) > 0 {
		rows := make([][]string, len(d.Portfolio.ByType))
		for i, t := range d.Portfolio.ByType {
			rows[i] = []string{
				t.Type,
				strconv.Itoa(t.PropertyCount),
				strconv.FormatInt(t.TotalUnits, 10),
				pct(t.AvgOccupancyRate),
				pct(d.Portfolio.Composition.ByValue[t.Type]),
				money(t.TotalRevenue),
				pct(t.AvgCapRate),
			}
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, ui.Table([]string{"Type", "Count", "Units", "Occupancy", "Value share", "Revenue", "Cap rate"}, rows))

		c := d.Portfolio.Composition
		sizes := make([]string, 0, len(analytics.SizeCategories))
		for _, cat := range analytics.SizeCategories {
			sizes = append(sizes, fmt.Sprintf("%s %d", cat, c.BySizeCategory[cat]))
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, ui.KV([][2]string{
			{"By size", strings.Join(sizes, ", ")},
			{"Value quartiles", fmt.Sprintf("%s / %s / %s", money(c.ValueQuartiles.P25), money(c.ValueQuartiles.P50), money(c.ValueQuartiles.P75))},
		}))
	}

	if strong := d.Portfolio.StrongCorrelations; len(strong) > 0 {
		rows := make([][]string, len(strong))
		for i, sc := range strong {
			rows[i] = []string{sc.Variable1, sc.Variable2, fmt.Sprintf("%.3f", sc.Correlation), sc.Strength}
		}
		fmt.Fprintf(w, "\n%s\n", ui.Header("Strong correlations"))
		fmt.Fprintln(w, ui.Table([]string{"Metric", "Metric", "r", "Strength"}, rows))
	}

	if top := d.Portfolio.Rankings.TopByRevenue; len(top) > 0 {
		rows := make([][]string, len(top))
		for i, p := range top {
			rows[i] = []string{strconv.Itoa(i + 1), p.Name, money(p.MonthlyRevenue), money(p.PurchasePrice), pct(p.CapRate)}
		}
		fmt.Fprintf(w, "\n%s\n", ui.Header("Top by revenue"))
		fmt.Fprintln(w, ui.Table([]string{"#", "Property", "Revenue", "Value", "Cap rate"}, rows))
	}

	fmt.Fprintf(w, "\n%s\n", ui.Header("Tenants"))
	fmt.Fprintln(w, ui.KV([][2]string{
		{"Tenants", fmt.Sprintf("%d (%d active, %d overdue)", d.Tenants.TotalTenants, d.Tenants.Active, d.Tenants.Overdue)},
		{"Monthly rent", money(d.Tenants.TotalMonthlyRent)},
		{"Outstanding", money(d.Tenants.OutstandingBalance)},
	}))

	fmt.Fprintf(w, "\n%s\n", ui.Header("Transactions"))
	fmt.Fprintln(w, ui.KV([][2]string{
		{"Count", strconv.Itoa(d.Transactions.TotalTransactions)},
		{"Income", money(d.Transactions.Income)},
		{"Expenses", money(d.Transactions.Expenses)},
		{"Net", money(d.Transactions.Net)},
	}))

	fmt.Fprintf(w, "\n%s\n", ui.Header("Work orders"))
	fmt.Fprintln(w, ui.KV([][2]string{
		{"Total", strconv.Itoa(d.WorkOrders.TotalWorkOrders)},
		{"Open", strconv.Itoa(d.WorkOrders.Open)},
		{"Urgent", strconv.Itoa(d.WorkOrders.Urgent)},
		{"From tenant portal", strconv.Itoa(d.WorkOrders.FromPortal)},
	}))
	fmt.Fprintln(w)
}

func init() {
	addStoreFlag(analyzeCmd)
	addFormatFlag(analyzeCmd)
	analyzeCmd.Flags().String("keys", "", "comma separated key fields (default: the kind's natural key)")

	addStoreFlag(cleanCmd)
	cleanCmd.Flags().String("keys", "", "comma separated key fields (default: the kind's natural key)")
	cleanCmd.Flags().String("strategy", string(dedup.KeepLatest), "keep_latest, keep_most_complete or keep_first")
	cleanCmd.Flags().BoolP("yes", "y", false, "remove without asking")

	addStoreFlag(statsCmd)
	addFormatFlag(statsCmd)

	rootCmd.AddCommand(analyzeCmd, cleanCmd, statsCmd)
}
