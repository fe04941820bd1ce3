package errors

import (
	"fmt"
	"testing"
)

func TestBuildDetectsDefaults(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("boom")
	ee := New(err).Build()

	if ee.Err.Error() != "boom" {
		t.Errorf("expected message 'boom', got %q", ee.Err.Error())
	}
	if ee.GetComponent() == "" {
		t.Error("expected a non-empty detected component")
	}
}

func TestBuildHonorsExplicitComponentAndCategory(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("no route to device")).
		Component("radio").
		Category(CategoryRadio).
		Context("port", "/dev/spidev0.0").
		Build()

	if ee.GetComponent() != "radio" {
		t.Errorf("expected component 'radio', got %q", ee.GetComponent())
	}
	if ee.Category != CategoryRadio {
		t.Errorf("expected category %q, got %q", CategoryRadio, ee.Category)
	}
	if ee.GetContext()["port"] != "/dev/spidev0.0" {
		t.Errorf("expected context port to be preserved")
	}
}

func TestIsCategoryAndIsNotFound(t *testing.T) {
	t.Parallel()

	notFound := New(NewStd("spectrogram not found")).Category(CategoryNotFound).Build()
	if !IsNotFound(notFound) {
		t.Error("expected IsNotFound to match CategoryNotFound error")
	}
	if IsCategory(notFound, CategoryRadio) {
		t.Error("did not expect notFound to match CategoryRadio")
	}
}

func TestEnhancedErrorUnwrapAndIs(t *testing.T) {
	t.Parallel()

	base := fmt.Errorf("session timeout")
	wrapped := New(base).Category(CategoryReassembly).Build()

	if Unwrap(wrapped) != base { //nolint:errorlint // intentional direct comparison
		t.Error("expected Unwrap to return the wrapped error")
	}

	other := New(fmt.Errorf("different")).Category(CategoryReassembly).Build()
	if !wrapped.Is(other) {
		t.Error("expected two EnhancedErrors with the same category to satisfy Is")
	}
}
