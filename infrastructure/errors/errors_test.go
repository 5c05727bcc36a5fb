package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestControlErrorError(t *testing.T) {
	tests := []struct {
		name string
		err  *ControlError
		want string
	}{
		{
			name: "error without underlying cause",
			err:  New(ErrHandlerFailed, "write-attribute rejected value"),
			want: "[HANDLER_FAILED] write-attribute rejected value",
		},
		{
			name: "error with underlying cause",
			err:  Wrap(ErrPersistenceWarning, "store failed", errors.New("disk full")),
			want: "[PERSISTENCE_WARNING] store failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestControlErrorUnwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(ErrHandlerThrew, "test", underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestNoSuchHandler(t *testing.T) {
	err := NoSuchHandler("/subsystem=web", "read-resource")
	if err.Code != ErrNoSuchHandler {
		t.Errorf("Code = %v, want %v", err.Code, ErrNoSuchHandler)
	}
	if err.HTTPStatus() != http.StatusNotFound {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus(), http.StatusNotFound)
	}
}

func TestAddressConflictHTTPStatus(t *testing.T) {
	err := AddressConflict("subsystem=web already exists")
	if err.HTTPStatus() != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus(), http.StatusConflict)
	}
}

func TestHandlerFailedMapsTo500(t *testing.T) {
	err := HandlerFailed("bad value")
	if err.HTTPStatus() != http.StatusInternalServerError {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus(), http.StatusInternalServerError)
	}
}

func TestPersistenceWarningWrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := PersistenceWarning(cause)
	if err.Code != ErrPersistenceWarning {
		t.Errorf("Code = %v, want %v", err.Code, ErrPersistenceWarning)
	}
	if !errors.Is(err.Unwrap(), cause) {
		t.Errorf("Unwrap() did not return the wrapped cause")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "control error", err: New(ErrCancelled, "test"), want: ErrCancelled},
		{name: "standard error", err: errors.New("standard error"), want: ""},
		{name: "nil error", err: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAsExtractsControlError(t *testing.T) {
	ce := New(ErrProtocolError, "truncated frame")
	var target *ControlError
	if !As(ce, &target) {
		t.Fatal("As() = false, want true")
	}
	if target.Code != ErrProtocolError {
		t.Errorf("Code = %v, want %v", target.Code, ErrProtocolError)
	}

	var notFound *ControlError
	if As(errors.New("plain"), &notFound) {
		t.Error("As() = true for non-ControlError, want false")
	}
}
