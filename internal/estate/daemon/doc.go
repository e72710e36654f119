// Package daemon keeps the JSON document and the CSV directory in sync while
// either is edited by hand or by another program.
//
// # Architecture
//
//   - FileWatcher: fsnotify events for the JSON document and the per-kind
//     CSV files, with temp and lock files filtered out
//   - Daemon: debounces events, decides which kinds really changed and runs
//     the reconciler in the matching direction
//
// # Direction
//
// For each kind, after the debounce interval:
//
//	JSON collection changed          json-to-csv
//	CSV file changed                 csv-to-json
//	both changed                     bidirectional merge
//
// Change is decided by content hash, not by the event itself. The JSON
// document is hashed per collection in compact form, so rewriting one
// collection does not trigger syncs of the others, and the daemon's own
// writes hash to what it recorded after the run and are ignored.
//
// # Usage
//
//	r := sync.New(docstore.New(jsonPath, logger), flatfile.New(csvDir, logger))
//	d, err := daemon.New(r, jsonPath, csvDir, &daemon.Config{
//	    Debounce:    2 * time.Second,
//	    InitialSync: true,
//	    Logger:      logger,
//	})
//	if err != nil {
//	    return err
//	}
//	return d.Run(ctx)
package daemon
