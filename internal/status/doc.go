// Package status tracks the lifecycle of a running scan.
//
// Status records whether a scan is running or paused, which phase it is in
// and how long it has been going. Progress estimates completion from the
// number of queued and finished jobs. Gate is the pause primitive the scan
// strategy blocks on between jobs.
//
// A new Status and Progress are created for every scan; values from a
// previous scan are never reused.
package status
