// Package database provides SQLite-based storage for scan results.
//
// The FindingsDB stores:
//   - One row per scan with its targets and outcome
//   - The findings reported during each scan
//   - A summary of every HTTP response the scan received
//
// Design decision: SQLite via modernc.org/sqlite keeps the store a single
// CGO-free file in the user's data directory. All scans share one file so
// the kb command can list past results without knowing where a scan ran.
package database
