package analysis

import (
	"errors"
	"fmt"
	"testing"
)

func TestTransientError(t *testing.T) {
	base := errors.New("connection refused")
	err := NewTransientError("inference", base)

	if !IsTransient(err) {
		t.Error("IsTransient() = false, want true")
	}
	if !errors.Is(err, base) {
		t.Error("Unwrap must reach the base error")
	}

	wrapped := fmt.Errorf("stage run: %w", err)
	if !IsTransient(wrapped) {
		t.Error("IsTransient must see through wrapping")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError(StageRiskDetection, "risk_score out of range")

	if !IsValidation(err) {
		t.Error("IsValidation() = false, want true")
	}
	if IsTransient(err) {
		t.Error("validation errors must not be transient")
	}

	wrapped := fmt.Errorf("stage run: %w", err)
	if !IsValidation(wrapped) {
		t.Error("IsValidation must see through wrapping")
	}
}

func TestSentinelErrors(t *testing.T) {
	err := fmt.Errorf("%w: no documents provided", ErrInvalidInput)
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("wrapped ErrInvalidInput must match errors.Is")
	}
	if errors.Is(err, ErrJobNotFound) {
		t.Error("distinct sentinels must not match")
	}
}
