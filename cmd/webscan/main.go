// Package main provides the entry point for the webscan CLI.
//
// webscan is a web application security scanner. A scan discovers the
// target's infrastructure, crawls it, audits every discovered URL and greps
// every response, reporting through output plugins.
//
// Usage:
//
//	webscan scan https://example.com
//	webscan scan --profile full_audit
//
// See --help for all available options.
package main

func main() {
	Execute()
}
