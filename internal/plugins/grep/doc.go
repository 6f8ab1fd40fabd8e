// Package grep contains the built-in grep plugins. Grep plugins inspect
// every HTTP response of a scan and never send requests of their own.
package grep
