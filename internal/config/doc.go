// Package config provides configuration structures and utilities for webscan.
// It defines the misc settings shared by the scan engine, the scan profile
// file format, and the home and temporary directories a scan needs.
package config
