// Package occupd exposes the Go APIs behind the shop-floor occupation
// service that coordinates exclusive claims on pipe-spool units, tracks
// assembly and weld progress down to individual sub-units, and drives the
// inspection/repair loop with an auditable trail. The server runs cleanly as
// a single binary, and the package also makes it easy to embed the server or
// spin it up inside tests.
//
// # Running a server
//
// The server listens on `Config.Listen` and persists units to the store
// named by `Config.Store` (for example `mem://` or `sheet://<spreadsheet>`).
//
//	cfg := occupd.Config{
//	    Store:  "mem://",
//	    Bus:    "mem://",
//	    Listen: ":9650",
//	}
//	srv, err := occupd.NewServer(cfg)
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatalf("occupd: %v", err)
//	    }
//	}()
//	defer func() {
//	    if err := srv.Shutdown(context.Background()); err != nil {
//	        log.Printf("occupd shutdown: %v", err)
//	    }
//	}()
//
// # Occupation model
//
// A unit is claimed with TAKE, released with PAUSE (progress kept) or FINISH
// (completions recorded). The lock behind a claim spans one request-response
// cycle; the recorded occupation on the unit is what other workers see, and
// a short TTL on the lock only mops up after crashed holders. Whether a
// FINISH completes the operation or merely pauses it is decided by the
// server against a fresh read, never by the client.
package occupd
