// Package model defines the data structures shared by the scan engine.
//
// This package contains the following main types:
//   - Finding: A vulnerability, informational item or shell stored in the knowledge base
//   - Severity: The risk level attached to a finding
//   - Sequence: A monotonic ID generator owned by a single scan session
//
// Design decision: We separate models into their own package to avoid circular
// dependencies. The knowledge base, plugins, output plugins and the findings
// store all exchange these types.
//
// The models are designed to be serializable to JSON for report output and
// database storage.
package model
