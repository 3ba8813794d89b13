package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData is returned when too few laps, drivers or sessions
	// are available for the requested computation.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInsufficientHistory is returned when a driver's lap history is too
	// short to issue a prediction.
	ErrInsufficientHistory = fmt.Errorf("insufficient history: %w", ErrInsufficientData)
	ErrMissingSignal       = errors.New("missing signal")
	// ErrLeakageGuardViolation signals a feature for lap k that referenced lap >= k.
	// This is a correctness defect and must abort processing.
	ErrLeakageGuardViolation = errors.New("leakage guard violation")
	ErrModelNotTrained       = errors.New("model not trained")
	ErrUnvalidatedMetric     = errors.New("unvalidated metric")
	ErrInvalidInput          = errors.New("invalid input")
)

type LeakageError struct {
	Driver    string
	Lap       int
	SourceLap int
	Feature   string
}

func (e *LeakageError) Error() string {
	return fmt.Sprintf("%s: driver %s lap %d feature %s used lap %d",
		ErrLeakageGuardViolation, e.Driver, e.Lap, e.Feature, e.SourceLap)
}

func (e *LeakageError) Unwrap() error {
	return ErrLeakageGuardViolation
}

type MissingSignalError struct {
	Channel Channel
	Valid   int
	Need    int
}

func (e *MissingSignalError) Error() string {
	return fmt.Sprintf("%s: channel %s has %d valid samples, need %d",
		ErrMissingSignal, e.Channel, e.Valid, e.Need)
}

func (e *MissingSignalError) Unwrap() error {
	return ErrMissingSignal
}

type UnvalidatedMetricError struct {
	Metrics []string
}

func (e *UnvalidatedMetricError) Error() string {
	return fmt.Sprintf("%s: %v", ErrUnvalidatedMetric, e.Metrics)
}

func (e *UnvalidatedMetricError) Unwrap() error {
	return ErrUnvalidatedMetric
}
