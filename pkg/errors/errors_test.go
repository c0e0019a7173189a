package errors

import (
	"errors"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}

	// Check error message includes cause
	errorMsg := err.Error()
	if !contains(errorMsg, "original error") {
		t.Errorf("Error() should contain cause, got: %v", errorMsg)
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("client_id", "aabbccddeeff").WithContext("count", 42)

	if err.Context["client_id"] != "aabbccddeeff" {
		t.Errorf("Context[client_id] = %v, want 'aabbccddeeff'", err.Context["client_id"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestNewProtocolError(t *testing.T) {
	err := NewProtocolError("bad handshake")
	if err.Code != ErrCodeProtocol {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeProtocol)
	}
	if err.HTTPStatus != 400 {
		t.Errorf("HTTPStatus = %v, want 400", err.HTTPStatus)
	}
}

func TestWrapProtocolError(t *testing.T) {
	cause := errors.New("short frame")
	err := WrapProtocolError(cause, "control framing error")
	if err.Code != ErrCodeProtocol {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeProtocol)
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is should find the cause through Unwrap")
	}
}

func TestNewCorrelationError(t *testing.T) {
	err := NewCorrelationError("no control session for client")
	if err.Code != ErrCodeCorrelation {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeCorrelation)
	}
}

func TestNewEncoderError_Unwrap(t *testing.T) {
	cause := errors.New("short write")
	err := NewEncoderError(cause)
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is should find the cause through Unwrap")
	}
	if err.Code != ErrCodeEncoder {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeEncoder)
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewNotFoundError("player")
	if got := GetAppError(appErr); got != appErr {
		t.Errorf("GetAppError() = %v, want %v", got, appErr)
	}
	if got := GetAppError(errors.New("plain")); got != nil {
		t.Errorf("GetAppError(plain) = %v, want nil", got)
	}
	if got := GetAppError(nil); got != nil {
		t.Errorf("GetAppError(nil) = %v, want nil", got)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
