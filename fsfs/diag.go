package fsfs

import "github.com/sirupsen/logrus"

// DiagKind categorizes a non-fatal diagnostic, replacing the source's
// global warning-callback with an injected sink (spec §9 REDESIGN
// FLAGS: "expose this as a structured diagnostic channel").
type DiagKind int

const (
	DiagRepCacheFailure DiagKind = iota
	DiagRepSharingFallback
	DiagHotCopyRestart
	DiagPack
)

func (k DiagKind) String() string {
	switch k {
	case DiagRepCacheFailure:
		return "rep-cache-failure"
	case DiagRepSharingFallback:
		return "rep-sharing-fallback"
	case DiagHotCopyRestart:
		return "hot-copy-restart"
	case DiagPack:
		return "pack"
	default:
		return "unknown"
	}
}

// Diagnostics is the sink every repository-level operation that can fail
// non-fatally reports through: rep-cache misbehavior, falling back to
// "no sharing", a hot-copy restart, pack progress.
type Diagnostics interface {
	Report(kind DiagKind, message string, fields map[string]any)
}

// logrusDiagnostics adapts Diagnostics onto a structured logger, the way
// the rest of this engine's ambient logging is done.
type logrusDiagnostics struct {
	log *logrus.Entry
}

// NewLogrusDiagnostics returns a Diagnostics sink backed by logger,
// tagging every entry with a "component=fsfs" field.
func NewLogrusDiagnostics(logger *logrus.Logger) Diagnostics {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &logrusDiagnostics{log: logger.WithField("component", "fsfs")}
}

func (d *logrusDiagnostics) Report(kind DiagKind, message string, fields map[string]any) {
	entry := d.log.WithField("diag", kind.String())
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Warn(message)
}

// discardDiagnostics silently drops every report; used when the caller
// doesn't care to wire a logger (e.g. in throwaway test fixtures).
type discardDiagnostics struct{}

func (discardDiagnostics) Report(DiagKind, string, map[string]any) {}
