// Package errors defines the normalized errors shared across shellexec. Every
// error carries an RFC code so the CLI and log readers can match on it without
// parsing messages.
package errors

import (
	"github.com/pingcap/errors"
)

// job definition errors
var (
	ErrEmptyCommands = errors.Normalize(
		"job %s: cmds is empty",
		errors.RFCCodeText("SE:ErrEmptyCommands"),
	)
	ErrInvalidCommands = errors.Normalize(
		"job %s: cmds must be a list of strings: %s",
		errors.RFCCodeText("SE:ErrInvalidCommands"),
	)
	ErrInvalidEnv = errors.Normalize(
		"job %s: envs must be a flat mapping of scalars: %s",
		errors.RFCCodeText("SE:ErrInvalidEnv"),
	)
	ErrInvalidJobName = errors.Normalize(
		"invalid job name %q",
		errors.RFCCodeText("SE:ErrInvalidJobName"),
	)
	ErrDuplicateJob = errors.Normalize(
		"job %s is declared more than once",
		errors.RFCCodeText("SE:ErrDuplicateJob"),
	)
	ErrParseJobFile = errors.Normalize(
		"parse job file %s",
		errors.RFCCodeText("SE:ErrParseJobFile"),
	)
)

// status and scheduling errors
var (
	ErrInvalidStatus = errors.Normalize(
		"unknown job status %q",
		errors.RFCCodeText("SE:ErrInvalidStatus"),
	)
	ErrIllegalTransition = errors.Normalize(
		"job %s: illegal status transition %s -> %s",
		errors.RFCCodeText("SE:ErrIllegalTransition"),
	)
	ErrDependencyDeadlock = errors.Normalize(
		"dependency error: %d job(s) can never become ready: %s",
		errors.RFCCodeText("SE:ErrDependencyDeadlock"),
	)
	ErrJobsFailed = errors.Normalize(
		"%d job(s) failed: %s",
		errors.RFCCodeText("SE:ErrJobsFailed"),
	)
)

// workspace errors
var (
	ErrWorkspaceIO = errors.Normalize(
		"workspace io failed: %s",
		errors.RFCCodeText("SE:ErrWorkspaceIO"),
	)
	ErrStatusStore = errors.Normalize(
		"status store failed: %s",
		errors.RFCCodeText("SE:ErrStatusStore"),
	)
	ErrUnknownStatusBackend = errors.Normalize(
		"unknown status backend %q",
		errors.RFCCodeText("SE:ErrUnknownStatusBackend"),
	)
	ErrRecordNotFound = errors.Normalize(
		"job %s: durable record not found",
		errors.RFCCodeText("SE:ErrRecordNotFound"),
	)
	ErrManifestNotFound = errors.Normalize(
		"workspace %s has no job manifest",
		errors.RFCCodeText("SE:ErrManifestNotFound"),
	)
	ErrRunStateNotFound = errors.Normalize(
		"no run state at %s",
		errors.RFCCodeText("SE:ErrRunStateNotFound"),
	)
)

// configuration errors
var (
	ErrInvalidConfig = errors.Normalize(
		"invalid config: %s",
		errors.RFCCodeText("SE:ErrInvalidConfig"),
	)
)
