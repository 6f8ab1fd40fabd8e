package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/strategy"
)

// ScanStartHook prepares a new scan: it clears the exception log, wipes the
// knowledge base, makes sure the home and temp directories are usable, and
// replaces the session. A transport stopped since the last scan is replaced
// too, and the soft-404 detector is bound to the current transport and pool.
//
// An unusable directory is fatal: the exit function is called with
// ExitEnvironment. When it returns, as it does in tests, the error is
// returned and the previous session is kept.
//
// It is safe to call at any time no scan is running.
func (c *Core) ScanStartHook() error {
	c.exceptions.Clear()
	c.Cleanup()

	if err := c.ensureDirs(); err != nil {
		c.logger.Error("cannot prepare directories", "error", err)
		fmt.Fprintf(c.console, "webscan: %v\n", err)
		c.exit(ExitEnvironment)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opener.Stopped() {
		opener, err := c.newOpener()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		c.opener = opener
	}
	c.session = c.newSession(c.opener, c.pool)
	c.detector.Reset(c.opener, c.pool)
	return nil
}

// Start runs a scan against the configured targets and blocks until it
// ends.
//
// A configuration problem is reported to the sink and returned before any
// request is made. Once the scan has started, the end of the scan is always
// finalized, whatever happened: the status is marked finished, the elapsed time is announced,
// the strategy and progress are stopped and ScanEndHook runs.
//
// A scan stopped by the user or by a condition the scan could not resolve
// returns nil. ErrResourceExhausted, ErrUnknownFailure and ErrUnhandled are
// returned after finalization.
func (c *Core) Start(ctx context.Context) (err error) {
	c.setLaunching(true)
	defer c.setLaunching(false)

	if err := c.ScanStartHook(); err != nil {
		return err
	}
	s := c.currentSession()
	s.setStartedAt(time.Now())

	// A Stop that arrived before the session existed reached the previous
	// strategy only.
	if c.takePendingStop() {
		s.strategy.Stop()
		c.Opener().Stop()
	}

	if err := c.VerifyEnvironment(); err != nil {
		c.reportError(fmt.Sprintf("webscan cannot start the scan: %v", err))
		return err
	}

	if err := c.sink.LogEnabledPlugins(c.plugins.EnabledSet()); err != nil {
		c.logger.Warn("failed to announce enabled plugins", "error", err)
	}

	s.status.Start()
	c.metrics.ScanStarted()
	c.logger.Info("scan started", "scan_id", s.id, "targets", c.targets.Strings())

	defer func() {
		s.status.ScanFinished()
		elapsed := time.Since(s.started())
		c.announceFinished(elapsed)
		s.strategy.Stop()
		s.progress.Stop()
		c.metrics.ScanFinished(s.result(), elapsed)

		if endErr := c.scanEndHook(s); endErr != nil {
			err = errors.Join(err, endErr)
		}
	}()

	res, runErr := c.runStrategy(ctx, s)
	return c.conclude(s, res, runErr)
}

// setLaunching marks the span of Start. A Stop arriving inside it is
// remembered until the new session exists.
func (c *Core) setLaunching(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.launching = on
	c.stopPending = false
}

func (c *Core) takePendingStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.stopPending
	c.stopPending = false
	return pending
}

// scanActive reports whether Start is running or the status says a scan
// is in progress.
func (c *Core) scanActive() bool {
	c.mu.Lock()
	launching, s := c.launching, c.session
	c.mu.Unlock()
	return launching || s.status.IsRunning()
}

// runStrategy runs the strategy, converting a panic into ErrUnhandled.
func (c *Core) runStrategy(ctx context.Context, s *session) (res strategy.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v\n%s", ErrUnhandled, r, debug.Stack())
		}
	}()
	return s.strategy.Start(ctx)
}

// conclude reports how the scan ended and decides what Start returns.
func (c *Core) conclude(s *session, res strategy.Result, err error) error {
	switch {
	case errors.Is(err, strategy.ErrResourceExhausted):
		s.setOutcome("resource_exhausted")
		c.reportError(fmt.Sprintf("The scan was stopped because webscan is running out of memory: %v", err))
		return fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	case errors.Is(err, ErrUnhandled):
		s.setOutcome("error")
		c.reportError(fmt.Sprintf("Unhandled error during the scan: %v", err))
		return err
	case err != nil:
		s.setOutcome("error")
		c.reportError(fmt.Sprintf("Unhandled error during the scan: %+v", err))
		return fmt.Errorf("%w: %w", ErrUnhandled, err)
	}

	s.setOutcome(res.Outcome.String())
	switch res.Outcome {
	case strategy.StoppedByUser:
		c.reportInformation("The user stopped the scan.")
	case strategy.StoppedUnresolved:
		c.reportError(fmt.Sprintf("**IMPORTANT** The following error was detected by webscan and couldn't be resolved: %v", res.Reason))
	case strategy.StoppedUnknown:
		c.reportError(fmt.Sprintf("The scan stopped for an unexpected reason: %v", res.Reason))
		return fmt.Errorf("%w: %w", ErrUnknownFailure, res.Reason)
	case strategy.Completed:
	}
	return nil
}

// announceFinished writes the end of scan message, falling back to the
// console when the sink fails.
func (c *Core) announceFinished(elapsed time.Duration) {
	msg := fmt.Sprintf("Scan finished in %s.", elapsed.Round(time.Millisecond))
	if err := c.sink.Information(msg); err != nil {
		fmt.Fprintln(c.console, msg)
	}
}

func (c *Core) reportInformation(msg string) {
	if err := c.sink.Information(msg); err != nil {
		c.logger.Warn("output plugins failed", "error", err)
	}
}

func (c *Core) reportError(msg string) {
	if err := c.sink.Error(msg); err != nil {
		c.logger.Warn("output plugins failed", "error", err)
	}
}

// Stop asks the running scan to end and waits until it is no longer
// running, polling at the configured interval up to the configured timeout.
// Canceling ctx ends the wait at once. Stop never waits longer than the
// timeout and does nothing harmful when no scan runs.
//
// A Stop issued while Start is still preparing the scan is kept and applied
// to the new session, so the scan ends as soon as it begins.
//
// When Stop gives up, worker goroutines may still be finishing their
// current call.
func (c *Core) Stop(ctx context.Context) {
	c.mu.Lock()
	if c.launching {
		c.stopPending = true
	}
	s := c.session
	c.mu.Unlock()

	s.strategy.Stop()
	c.Opener().Stop()

	if !c.scanActive() {
		return
	}
	c.logger.Info("waiting for the scan to stop", "timeout", c.stopTimeout)

	ticker := time.NewTicker(c.stopPollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.stopTimeout)
	defer deadline.Stop()

	for c.scanActive() {
		select {
		case <-ctx.Done():
			c.logger.Warn("forced exit while waiting for the scan to stop")
			return
		case <-deadline.C:
			c.logger.Warn("the scan did not stop in time", "waited", c.stopTimeout)
			return
		case <-ticker.C:
		}
	}
}

// Pause pauses or resumes the running scan.
func (c *Core) Pause(pause bool) {
	s := c.currentSession()
	s.status.Pause(pause)
	s.strategy.Pause(pause)
	c.Opener().Pause(pause)
}

// Quit stops the scan and removes the temp directory. Removal errors are
// ignored.
func (c *Core) Quit(ctx context.Context) {
	c.Stop(ctx)
	_ = os.RemoveAll(c.cfg.TempDir) //nolint:errcheck // best effort
}

// ScanEndHook finalizes the current session. Start calls it; it is exported
// for front ends that drive a scan step by step.
func (c *Core) ScanEndHook() error {
	return c.scanEndHook(c.currentSession())
}

// scanEndHook ends the output plugins while the transport history is still
// available, then ends the transport. Whatever fails, it goes on to stop the
// status and progress, drop the plugin instances, replace the transport and
// the worker pool with fresh ones for a follow-up phase and clear the
// targets. Errors are joined and returned at the end.
func (c *Core) scanEndHook(s *session) error {
	var errs []error

	s.env.Outcome = s.result()
	if err := c.endOutputs(s.env); err != nil {
		errs = append(errs, fmt.Errorf("end output plugins: %w", err))
	}

	c.mu.Lock()
	oldOpener, oldPool := c.opener, c.pool
	c.mu.Unlock()
	oldOpener.End()

	s.status.Stop()
	s.progress.Stop()
	c.plugins.ZeroEnabledPlugins()

	pool := c.newPool()
	opener, err := c.newOpener()
	if err != nil {
		errs = append(errs, fmt.Errorf("create transport: %w", err))
		opener = oldOpener
	}
	opener.SetSequence(s.seq)

	c.mu.Lock()
	c.opener = opener
	c.pool = pool
	c.mu.Unlock()
	c.detector.Reset(opener, pool)

	// Tasks of the finished scan may still be returning.
	go oldPool.Close()

	c.targets.Clear()

	return errors.Join(errs...)
}

// endOutputs ends the output plugins. A panic of the sink is turned into
// ErrUnhandled so the rest of the end of scan still runs.
func (c *Core) endOutputs(env *plugin.Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic in output plugins: %v\n%s", ErrUnhandled, r, debug.Stack())
		}
	}()
	return c.sink.EndOutputPlugins(context.Background(), env)
}
