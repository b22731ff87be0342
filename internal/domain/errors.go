package domain

import (
	"fmt"
	"strings"
)

// The error taxonomy below is the boundary currency of the core: repositories
// and services return these types, and the transport layer maps them to
// status codes. None of them are raw strings; all support errors.As.

// ConfigError reports missing required configuration, a malformed config
// file, or conflicting flags. The scheduler refuses to start on one.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config error: %s", e.Reason)
	}
	return fmt.Sprintf("config error: %s: %s", e.Key, e.Reason)
}

// SnapshotSourceError reports a failure to read or parse the external
// snapshot source. No snapshot is written when it occurs.
type SnapshotSourceError struct {
	Source string // "CSV" or "CACHE"
	Path   string
	Reason string
	Err    error
}

func (e *SnapshotSourceError) Error() string {
	msg := fmt.Sprintf("snapshot source %s: %s", e.Source, e.Reason)
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	return msg
}

func (e *SnapshotSourceError) Unwrap() error { return e.Err }

// SnapshotBuildError reports a failed snapshot build transaction. The
// previous snapshot remains authoritative.
type SnapshotBuildError struct {
	Op  string
	Err error
}

func (e *SnapshotBuildError) Error() string {
	return fmt.Sprintf("snapshot build failed during %s: %v", e.Op, e.Err)
}

func (e *SnapshotBuildError) Unwrap() error { return e.Err }

// EvaluationError is a per-symbol evaluation failure. It is recorded on the
// symbol's summary and never aborts the rest of the universe.
type EvaluationError struct {
	Symbol string
	Stage  int
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation of %s failed in stage %d: %v", e.Symbol, e.Stage, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// ProviderError reports a chain-provider fetch failure: network error,
// timeout, or upstream rejection. Stage 2 fails for the affected symbol only.
type ProviderError struct {
	Symbol  string
	Reason  string // e.g. "TIMEOUT", "UPSTREAM", "CIRCUIT_OPEN"
	Err     error
	Timeout bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("chain provider for %s: %s: %v", e.Symbol, e.Reason, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StoreError reports a persistence failure, in SQLite or on the artifact
// filesystem. For decision writes the canonical file is unchanged when it
// occurs (rename is the commit point).
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// FreezeViolation reports a write attempt against the canonical decision
// while the market is closed and no force flag was supplied. It maps to a
// conflict at the transport layer.
type FreezeViolation struct {
	Phase     Phase
	Operation string
}

func (e *FreezeViolation) Error() string {
	return fmt.Sprintf("refusing %s: market phase is %s and decision is frozen (use force to override)", e.Operation, e.Phase)
}

// LifecycleError reports an invalid state transition in the paper-position
// layer, e.g. closing an already-closed position.
type LifecycleError struct {
	Entity string
	From   string
	To     string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}

// ConfigDrift describes a config-hash mismatch between two LIVE runs. It is
// an auditable signal attached to the run, not an error that blocks it.
type ConfigDrift struct {
	PreviousHash string
	CurrentHash  string
	ChangedKeys  []string
}

func (d *ConfigDrift) String() string {
	return fmt.Sprintf("config drift: %s -> %s (changed: %s)",
		shortHash(d.PreviousHash), shortHash(d.CurrentHash), strings.Join(d.ChangedKeys, ", "))
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
