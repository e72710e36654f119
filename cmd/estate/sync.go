package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/sync"
	"github.com/DavNight89/adminEstate/internal/ui"
)

// defaultRoute merges the JSON document and the CSV files both ways.
const defaultRoute = "json+csv"

// reconcilerFor builds a reconciler for --direction and --authoritative.
func reconcilerFor(cmd *cobra.Command) (*sync.Reconciler, sync.Route, sync.Side, error) {
	direction, _ := cmd.Flags().GetString("direction")
	if strings.EqualFold(direction, "both") {
		direction = defaultRoute
	}
	route, err := sync.ParseRoute(direction)
	if err != nil {
		return nil, sync.Route{}, sync.SideNone, err
	}
	auth, err := authoritativeSide(cmd)
	if err != nil {
		return nil, sync.Route{}, sync.SideNone, err
	}
	a, b, err := registry.Pair(cmd.Context(), route.From, route.To)
	if err != nil {
		return nil, sync.Route{}, sync.SideNone, err
	}
	return sync.New(a, b, sync.WithLogger(logger)), route, auth, nil
}

func addRouteFlags(cmd *cobra.Command) {
	cmd.Flags().String("direction", defaultRoute, "route: json-to-csv, csv-to-json, json-to-db, db-to-json, csv-to-db, json+csv, both ...")
	cmd.Flags().String("authoritative", "", "side that wins conflicts: a (first store), b (second store) or none")
}

var syncCmd = &cobra.Command{
	Use:     "sync <kind|all>",
	GroupID: "sync",
	Short:   "Reconcile a collection between two stores",
	Long: `Merge one collection (or all of them) from two stores and write the result.

Records are matched by id, then by natural key (name and address for
properties). When copies disagree, the authoritative side wins, then the most
recently updated copy, then the most complete one. Tenant portal work orders
and messages are never dropped by a one-way sync.

Routes:
  json-to-csv   overwrite the CSV file from the merge
  csv-to-json   overwrite the JSON collection from the merge
  json+csv      write the merge to both (also: both)

Any two of json, csv and db can be paired.

Examples:
  estate sync properties --direction json-to-csv
  estate sync all --direction json+db --authoritative a`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds, err := parseKinds(args[0])
		if err != nil {
			return err
		}
		r, route, auth, err := reconcilerFor(cmd)
		if err != nil {
			return err
		}

		var (
			results []*sync.Result
			failed  []string
		)
		for _, kind := range kinds {
			res, err := r.Reconcile(cmd.Context(), sync.Request{Kind: kind, Direction: route.Direction, Authoritative: auth})
			if res != nil {
				results = append(results, res)
			}
			if err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", kind, err))
			}
		}

		if err := render(cmd, results, func(w io.Writer) { printResults(w, route, results) }); err != nil {
			return err
		}
		if len(failed) > 0 {
			return fmt.Errorf("sync failed for %d collection(s):\n  %s", len(failed), strings.Join(failed, "\n  "))
		}
		return nil
	},
}

func printResults(w io.Writer, route sync.Route, results []*sync.Result) {
	fmt.Fprintf(w, "\n%s Sync %s\n\n", ui.RenderAccent("🔄"), route)
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		status := ui.RenderPass(ui.IconPass)
		if !res.Success {
			status = ui.RenderFail(ui.IconFail)
		}
		rows = append(rows, []string{
			status,
			res.Kind.String(),
			strconv.Itoa(res.LoadedA),
			strconv.Itoa(res.LoadedB),
			strconv.Itoa(res.Merged),
			strconv.Itoa(res.DuplicatesDropped),
			strconv.Itoa(res.ProtectedPreserved),
			strings.Join(res.Written, ", "),
			res.Duration.Round(time.Millisecond).String(),
		})
	}
	fmt.Fprintln(w, ui.Table([]string{"", "Kind", route.From, route.To, "Merged", "Dropped", "Protected", "Written", "Took"}, rows))

	for _, res := range results {
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "%s %s: %s\n", ui.RenderWarnIcon(), res.Kind, warn)
		}
		for _, c := range res.Conflicts {
			fmt.Fprintf(w, "%s %s: %q kept %s from side %s over %s from side %s\n",
				ui.RenderWarnIcon(), res.Kind, c.Key, c.KeptID, c.KeptSide, c.DroppedID, c.DroppedSide)
		}
	}
	fmt.Fprintln(w)
}

var mergedCmd = &cobra.Command{
	Use:     "merged <kind>",
	GroupID: "sync",
	Short:   "Print the merged view of a collection without writing",
	Long: `Load a collection from two stores and print what a sync would write,
leaving both stores untouched.

Examples:
  estate merged properties
  estate merged tenants --direction csv+db --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			return err
		}
		r, route, auth, err := reconcilerFor(cmd)
		if err != nil {
			return err
		}
		res, merged, err := r.Merge(cmd.Context(), sync.Request{Kind: kind, Direction: route.Direction, Authoritative: auth})
		if err != nil {
			return err
		}

		return render(cmd, exportRecords(kind, merged), func(w io.Writer) {
			s := schema.MustLookup(kind)
			fields := []string{schema.FieldID}
			for _, f := range s.DedupKeyFields() {
				if f != schema.FieldID {
					fields = append(fields, f)
				}
			}
			fields = append(fields, schema.FieldUpdatedAt)
			rows := make([][]string, len(merged))
			for i, rec := range merged {
				row := make([]string, len(fields))
				for j, f := range fields {
					row[j] = schema.FormatValue(rec[f])
				}
				rows[i] = row
			}
			fmt.Fprintf(w, "\n%s\n", ui.Header(fmt.Sprintf("%s merged from %s", kind, route)))
			fmt.Fprintln(w, ui.Table(fields, rows))
			fmt.Fprintln(w, ui.KV([][2]string{
				{"Loaded", fmt.Sprintf("%d + %d", res.LoadedA, res.LoadedB)},
				{"Merged", strconv.Itoa(res.Merged)},
				{"Duplicates", strconv.Itoa(res.DuplicatesDropped)},
			}))
			fmt.Fprintln(w)
		})
	},
}

func init() {
	addRouteFlags(syncCmd)
	addFormatFlag(syncCmd)
	addRouteFlags(mergedCmd)
	addFormatFlag(mergedCmd)
	rootCmd.AddCommand(syncCmd, mergedCmd)
}
