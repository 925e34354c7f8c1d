package sqlite

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/loopstats/internal/monitoring"
)

// TableCounts reports the number of rows in each stats table.
type TableCounts struct {
	Runs      int64 `json:"runs"`
	Snapshots int64 `json:"snapshots"`
	Metrics   int64 `json:"metrics"`
	Catalog   int64 `json:"catalog"`
}

// Counts returns row counts for the stats tables.
func (db *DB) Counts() (TableCounts, error) {
	var c TableCounts
	for _, q := range []struct {
		table string
		dst   *int64
	}{
		{"stats_runs", &c.Runs},
		{"stats_snapshots", &c.Snapshots},
		{"stats_metrics", &c.Metrics},
		{"stats_catalog", &c.Catalog},
	} {
		if err := db.QueryRow("SELECT COUNT(*) FROM " + q.table).Scan(q.dst); err != nil {
			return TableCounts{}, fmt.Errorf("count %s: %w", q.table, err)
		}
	}
	return c, nil
}

// AttachAdminRoutes mounts a live SQL console for the snapshot database
// under /debug/tailsql/ and a row count summary under /debug/db-stats.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Loop statistics DB",
	})

	debug.Handle("tailsql/", "SQL live debugging of recorded snapshots", tsql.NewMux())

	debug.Handle("db-stats", "Row counts of the stats tables", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counts, err := db.Counts()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(counts); err != nil {
			monitoring.Logf("[store] failed to write db-stats: %v", err)
		}
	}))
	return nil
}
