// Package testutil provides common test utilities and assertions for wasmudf tests
package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/reglet-dev/wasmudf/domain/errors"
)

// RequireKind asserts that err is non-nil and classifies as kind.
func RequireKind(t *testing.T, err error, kind domainerrors.Kind, msgAndArgs ...interface{}) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	require.Equal(t, kind, domainerrors.KindOf(err), "error: %v", err)
}

// AssertExitCode asserts the process exit code err maps to.
func AssertExitCode(t *testing.T, want int, err error, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, want, domainerrors.ExitCode(err), msgAndArgs...)
}

// RequireGuestFault asserts that err is a guest fault and returns it.
func RequireGuestFault(t *testing.T, err error) *domainerrors.GuestFaultError {
	t.Helper()
	var fault *domainerrors.GuestFaultError
	require.True(t, errors.As(err, &fault), "expected GuestFaultError, got %v", err)
	return fault
}

// WriteTempModule writes a wasm binary to a temporary file and returns its path.
func WriteTempModule(t *testing.T, module []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.wasm")
	require.NoError(t, os.WriteFile(path, module, 0o600))
	return path
}

// WriteTempFile writes content under a temporary directory and returns its path.
func WriteTempFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
