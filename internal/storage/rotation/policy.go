// Package rotation decides when the active storage file must be rotated.
package rotation

import (
	"time"

	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// Reason identifies which threshold triggered a rotation.
type Reason int

const (
	// ReasonNone means no threshold was reached.
	ReasonNone Reason = iota
	// ReasonSize means the file reached MaxSizeBytes.
	ReasonSize
	// ReasonLines means the file reached MaxLineCount data rows.
	ReasonLines
	// ReasonAge means the file has been active for at least Every.
	ReasonAge
	// ReasonManual means rotation was requested explicitly.
	ReasonManual
)

// String returns a human-readable representation of the Reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonSize:
		return "size"
	case ReasonLines:
		return "lines"
	case ReasonAge:
		return "age"
	case ReasonManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Policy holds the rotation thresholds. A zero threshold disables its condition.
type Policy struct {
	MaxSizeBytes int64
	MaxLineCount int64
	Every        time.Duration
}

// Evaluate returns the first threshold reached by f at now, or ReasonNone.
// Conditions are OR'd, so the order only affects which reason is reported.
func (p Policy) Evaluate(f types.ActiveFile, now time.Time) Reason {
	switch {
	case p.MaxSizeBytes > 0 && f.SizeBytes >= p.MaxSizeBytes:
		return ReasonSize
	case p.MaxLineCount > 0 && f.LineCount >= p.MaxLineCount:
		return ReasonLines
	case p.Every > 0 && f.Age(now) >= p.Every:
		return ReasonAge
	default:
		return ReasonNone
	}
}

// ShouldRotate reports whether any threshold is reached.
func (p Policy) ShouldRotate(f types.ActiveFile, now time.Time) bool {
	return p.Evaluate(f, now) != ReasonNone
}
