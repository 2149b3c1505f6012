package util

import (
	"errors"
	"strings"
	"testing"
)

func TestStateError(t *testing.T) {
	err := NewStateError("disconnect", "wlp3s0", "Disconnected")

	if !errors.Is(err, ErrWrongState) {
		t.Error("StateError should unwrap to ErrWrongState")
	}
	for _, want := range []string{"disconnect", "wlp3s0", "Disconnected"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should contain %q", err.Error(), want)
		}
	}
}

func TestTransformError(t *testing.T) {
	err := NewTransformError("Strength", "s", "expected byte")

	if !errors.Is(err, ErrInvalidInput) {
		t.Error("TransformError should unwrap to ErrInvalidInput")
	}
	if !strings.Contains(err.Error(), "Strength") {
		t.Errorf("error %q should contain property name", err.Error())
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{ErrUnavailable, ErrNotFound, ErrInvalidInput, ErrWrongState, ErrDiscarded}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel %v should not match %v", a, b)
			}
		}
	}
}
