// sublimine-audit ingests one or more journal files into a SQLite
// database and runs an ad-hoc SQL query against the result, analogous to
// original_source's tools/audit_bundle.py. It never touches the live
// pipeline; it only reads journal files already written by sublimine-ids.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sublimine-ids/internal/audit"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		dbPath string
		query  string
	)

	root := &cobra.Command{
		Use:           "sublimine-audit <journal-file>...",
		Short:         "Ingest journal files into SQLite and run an ad-hoc query",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := audit.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open audit db: %w", err)
			}
			defer db.Close()

			total := 0
			for _, path := range args {
				n, err := db.Ingest(path)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				total += n
			}
			fmt.Fprintf(os.Stderr, "ingested %d records from %d file(s)\n", total, len(args))

			if query == "" {
				return nil
			}
			return runQuery(db, query)
		},
	}
	root.Flags().StringVar(&dbPath, "db", ":memory:", "SQLite database path (default: scratch in-memory)")
	root.Flags().StringVar(&query, "query", "", "SQL query to run against the ingested tables (signals, trade_intents, fills, data_quality, engine_state)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runQuery(db *audit.DB, query string) error {
	rows, err := db.Conn().Query(query)
	if err != nil {
		return fmt.Errorf("run query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("read columns: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		for i, v := range vals {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprintf(w, "%v", v)
		}
		fmt.Fprintln(w)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}
	return w.Flush()
}
