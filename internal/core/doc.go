// Package core is the scan orchestrator. It owns the registries, the
// knowledge base, the transport and the worker pool, and sequences a scan
// from "configured" to "finished or stopped".
//
// A Core runs one scan at a time. Start blocks for the whole scan, so a
// front end calls it from its own goroutine and uses Stop and Pause from
// elsewhere:
//
//	c, err := core.New(cfg, sink, core.WithRegistry(plugins.NewRegistry()))
//	...
//	go func() { done <- c.Start(ctx) }()
//	...
//	c.Stop(ctx)
//
// Every scan gets a new session: a fresh sequence, strategy, status and
// progress. When a scan ends, the transport and the worker pool are replaced
// by new instances so that a follow-up phase never sees requests left over
// from the scan. Configuration survives: targets are cleared at the end of a
// scan, but plugin selection, plugin options and misc settings are kept for
// the next one.
package core
