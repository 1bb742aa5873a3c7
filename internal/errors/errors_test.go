package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	opserrors "github.com/memeplatform/memeops/internal/errors"
)

func TestOpsError_MessageIncludesReasonAndSuggestion(t *testing.T) {
	err := opserrors.NewDestinationPopulated("tokens", 3)
	msg := err.Error()

	for _, want := range []string{"destination table tokens is not empty", "Reason: 3 rows present", "Suggestion:"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected message to contain %q, got:\n%s", want, msg)
		}
	}
}

func TestOpsError_UnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp 127.0.0.1:27017: connection refused")
	err := fmt.Errorf("connect: %w", opserrors.NewSourceUnavailable(cause))

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	var unavailable *opserrors.ErrSourceUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatal("expected errors.As to find ErrSourceUnavailable")
	}
	if !strings.Contains(err.Error(), "Caused by: dial tcp") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want opserrors.ErrorCode
	}{
		{"config", opserrors.NewConfigInvalid("destination.password", "is required"), opserrors.CodeConfig},
		{"wrapped connectivity", fmt.Errorf("x: %w", opserrors.NewDestinationUnavailable(nil)), opserrors.CodeConnectivity},
		{"duplicate", opserrors.NewDuplicateRecord("Token", "1", nil), opserrors.CodeWrite},
		{"already migrated", opserrors.NewAlreadyMigrated("run-1"), opserrors.CodeState},
		{"foreign", fmt.Errorf("boom"), opserrors.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := opserrors.CodeOf(tt.err); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRecordInvalid_WithoutID(t *testing.T) {
	err := opserrors.NewRecordInvalid("User", "", "_id", "is required")
	if !strings.Contains(err.Error(), "<no id>") {
		t.Errorf("expected placeholder id, got %q", err.Error())
	}
}
