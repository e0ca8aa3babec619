package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New("test error")
	if err == nil {
		t.Fatal("New() returned nil")
	}

	if !strings.Contains(err.Error(), "test error") {
		t.Errorf("Expected error message to contain 'test error', got: %s", err.Error())
	}

	if err.Location() == "" {
		t.Error("Location should not be empty")
	}
}

func TestWrap(t *testing.T) {
	baseErr := errors.New("base error")
	err := Wrap(baseErr, "wrapped")

	if err == nil {
		t.Fatal("Wrap() returned nil")
	}

	if !strings.Contains(err.Error(), "wrapped") {
		t.Errorf("Expected error message to contain 'wrapped', got: %s", err.Error())
	}

	if !strings.Contains(err.Error(), "base error") {
		t.Errorf("Expected error message to contain 'base error', got: %s", err.Error())
	}

	// Test unwrapping
	unwrapped := errors.Unwrap(err)
	if unwrapped != baseErr {
		t.Errorf("Unwrap() returned wrong error: %v", unwrapped)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "wrapped") != nil {
		t.Error("Wrap(nil, ...) should return nil")
	}
}

func TestWithField(t *testing.T) {
	err := New("test error").WithField("key", "value")

	fields := err.GetFields()
	if len(fields) != 1 {
		t.Fatalf("Expected 1 field, got %d", len(fields))
	}

	if fields["key"] != "value" {
		t.Errorf("Expected field['key'] = 'value', got: %v", fields["key"])
	}
}

func TestWithFields(t *testing.T) {
	fields := map[string]interface{}{
		"key1": "value1",
		"key2": 123,
	}

	err := New("test error").WithFields(fields)

	errFields := err.GetFields()
	if len(errFields) != 2 {
		t.Fatalf("Expected 2 fields, got %d", len(errFields))
	}

	if errFields["key1"] != "value1" {
		t.Errorf("Expected field['key1'] = 'value1', got: %v", errFields["key1"])
	}

	if errFields["key2"] != 123 {
		t.Errorf("Expected field['key2'] = 123, got: %v", errFields["key2"])
	}
}

func TestWithCode(t *testing.T) {
	err := New("test error").WithCode("TEST_CODE")

	if err.GetCode() != "TEST_CODE" {
		t.Errorf("Expected code 'TEST_CODE', got: %s", err.GetCode())
	}
}

func TestErrorIs(t *testing.T) {
	notFoundErr := NewCallNotFound("call-123")
	if !errors.Is(notFoundErr, ErrCallNotFound) {
		t.Error("errors.Is() should return true for ErrCallNotFound")
	}

	wrapped := Wrap(ErrInvalidInput, "wrapped invalid input")
	if !errors.Is(wrapped, ErrInvalidInput) {
		t.Error("errors.Is() should return true for wrapped ErrInvalidInput")
	}
}

func TestErrorAs(t *testing.T) {
	err := New("test error").WithCode("TEST_CODE")

	var structErr *Error
	if !errors.As(err, &structErr) {
		t.Error("errors.As() should successfully cast to *Error")
	}

	if structErr.GetCode() != "TEST_CODE" {
		t.Errorf("Expected code 'TEST_CODE', got: %s", structErr.GetCode())
	}
}

func TestTransience(t *testing.T) {
	if !IsTransient(Transient("rate limited")) {
		t.Error("Transient() errors should be transient")
	}

	if IsTransient(Permanent("bad audio format")) {
		t.Error("Permanent() errors must not be transient")
	}

	if !IsPermanent(Permanent("bad audio format")) {
		t.Error("Permanent() errors should be permanent")
	}

	// Sentinel fallback when no explicit classification is attached
	if !IsTransient(Wrap(ErrTimeout, "capability timed out")) {
		t.Error("ErrTimeout should be transient by default")
	}

	if !IsTransient(Wrap(ErrStoreUnavailable, "store down")) {
		t.Error("ErrStoreUnavailable should be transient")
	}

	if !IsPermanent(NewInvalidInput("unsupported codec")) {
		t.Error("invalid input should be permanent")
	}
}

func TestTransienceInheritedThroughWrap(t *testing.T) {
	root := Transient("throttled by provider")
	wrapped := Wrap(root, "transcription attempt failed")

	if !IsTransient(wrapped) {
		t.Error("wrapping should preserve the root transience classification")
	}

	wrappedTwice := Wrap(wrapped, "stage handler failed")
	if !IsTransient(wrappedTwice) {
		t.Error("double wrapping should still preserve transience")
	}
}

func TestIsStale(t *testing.T) {
	stale := NewStaleTransition("call-1", "transcribing", "analyzing")
	if !IsStale(stale) {
		t.Error("IsStale() should match a stale transition")
	}

	if !IsStale(Wrap(ErrVersionMismatch, "cas failed")) {
		t.Error("IsStale() should treat a version mismatch as stale")
	}

	if IsStale(errors.New("unrelated")) {
		t.Error("IsStale() must not match unrelated errors")
	}
}

func TestStaleTransitionFields(t *testing.T) {
	err := NewStaleTransition("call-1", "transcribing", "analyzed")

	fields := err.GetFields()
	if fields["call_id"] != "call-1" {
		t.Errorf("Expected call_id field, got: %v", fields["call_id"])
	}
	if fields["expected_status"] != "transcribing" {
		t.Errorf("Expected expected_status field, got: %v", fields["expected_status"])
	}
	if fields["actual_status"] != "analyzed" {
		t.Errorf("Expected actual_status field, got: %v", fields["actual_status"])
	}
	if err.GetCode() != "STALE_TRANSITION" {
		t.Errorf("Expected code STALE_TRANSITION, got: %s", err.GetCode())
	}
}

func TestHelperFunctions(t *testing.T) {
	notFoundErr := NewCallNotFound("call-9")
	if !IsErrorType(notFoundErr, ErrCallNotFound) {
		t.Error("IsErrorType() should return true for ErrCallNotFound")
	}

	codeErr := New("test error").WithCode("TEST_CODE")
	if GetErrorCode(codeErr) != "TEST_CODE" {
		t.Errorf("GetErrorCode() should return 'TEST_CODE', got: %s", GetErrorCode(codeErr))
	}

	fieldsErr := New("test error").WithField("key", "value")
	fields := GetErrorFields(fieldsErr)
	if fields == nil || fields["key"] != "value" {
		t.Error("GetErrorFields() should return the error fields")
	}

	locErr := New("test error")
	if GetErrorLocation(locErr) == "" {
		t.Error("GetErrorLocation() should return a non-empty string")
	}
}
