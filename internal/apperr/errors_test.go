package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Endpoint: "orders", Missing: []string{"from", "to"}}
	assert.Equal(t, "Required parameters not specified: from, to", err.Error())

	err = &ValidationError{Param: "id", Message: "Incorrect parameter id: expected integer, actual x"}
	assert.Equal(t, "Incorrect parameter id: expected integer, actual x", err.Error())
}

func TestErrorsAsThroughWrapping(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := fmt.Errorf("fetch orders: %w", &ExecutionError{Endpoint: "orders", Err: cause})

	var execErr *ExecutionError
	require.True(t, errors.As(wrapped, &execErr))
	assert.Equal(t, "orders", execErr.Endpoint)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "query execution failed: connection reset")
}

func TestAssemblyInvariantError(t *testing.T) {
	err := &AssemblyInvariantError{Endpoint: "orders", Message: `column "total" missing from row`}
	assert.Equal(t, `assembly invariant violated in endpoint "orders": column "total" missing from row`, err.Error())
}

func TestConfigurationErrors(t *testing.T) {
	errs := ConfigurationErrors{
		Configf("a", "duplicate endpoint name"),
		{Message: "no descriptions found"},
	}
	assert.Equal(t, `configuration error in endpoint "a": duplicate endpoint name; configuration error: no descriptions found`, errs.Error())
}
