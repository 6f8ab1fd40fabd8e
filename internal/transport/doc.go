// Package transport performs the HTTP requests of a scan.
//
// An Opener wraps an http.Client with the behavior the scan engine needs:
// optional SOCKS5 proxying, per-host header and cookie injection, rate
// limiting, a response body cap, a consecutive-error ceiling, a response
// history and observers that see every response (the grep phase).
//
// The lifecycle mirrors the scan: Pause blocks new requests, Stop makes
// every pending and future request fail with ErrStopped, and End also drops
// the history and idle connections. A stopped opener is never restarted;
// the engine replaces it with a new one.
package transport
