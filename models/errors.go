package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSchema              = errors.New("schema error")
	ErrTemporalAlignment   = errors.New("temporal alignment error")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrLeakageRisk         = errors.New("leakage risk")
)

// SchemaError reports a missing column or a value of the wrong type or range.
type SchemaError struct {
	Source string
	Column string
	Row    int
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("%s: %s: row %d: column %q: %s", ErrSchema, e.Source, e.Row, e.Column, e.Reason)
	}
	if e.Column != "" {
		return fmt.Sprintf("%s: %s: column %q: %s", ErrSchema, e.Source, e.Column, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrSchema, e.Source, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

type TemporalAlignmentError struct {
	Source    string
	Timestamp time.Time
	Reason    string
}

func (e *TemporalAlignmentError) Error() string {
	return fmt.Sprintf("%s: %s: %s: %s", ErrTemporalAlignment, e.Source, e.Timestamp.Format(time.RFC3339), e.Reason)
}

func (e *TemporalAlignmentError) Unwrap() error { return ErrTemporalAlignment }

// InsufficientHistoryError is row-level: the row is excluded from training and scoring.
type InsufficientHistoryError struct {
	StationID string
	Hour      time.Time
	Feature   string
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("%s: station %s at %s: %s unavailable",
		ErrInsufficientHistory, e.StationID, e.Hour.Format(time.RFC3339), e.Feature)
}

func (e *InsufficientHistoryError) Unwrap() error { return ErrInsufficientHistory }

// LeakageRiskError means the training window is not strictly before the validation window.
type LeakageRiskError struct {
	TrainMax time.Time
	ValidMin time.Time
}

func (e *LeakageRiskError) Error() string {
	return fmt.Sprintf("%s: latest training hour %s is not before earliest validation hour %s",
		ErrLeakageRisk, e.TrainMax.Format(time.RFC3339), e.ValidMin.Format(time.RFC3339))
}

func (e *LeakageRiskError) Unwrap() error { return ErrLeakageRisk }

// ConvergenceWarning is non-fatal: the model trained, but on too few rows to trust.
type ConvergenceWarning struct {
	Model   string
	Rows    int
	MinRows int
}

func (w *ConvergenceWarning) Error() string {
	return fmt.Sprintf("%s trained on %d rows (minimum %d); metrics may be unreliable", w.Model, w.Rows, w.MinRows)
}
