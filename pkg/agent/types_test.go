package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusCheck(t *testing.T) {
	require.NoError(t, StatusOK.Check("install"))

	err := StatusKernelDenied.Check("install breakpoint 3")
	require.Error(t, err)
	serr, ok := err.(*StatusError)
	require.True(t, ok, "expected StatusError, got %T", err)
	require.Equal(t, StatusKernelDenied, serr.Status)
	require.Contains(t, err.Error(), "disabled by kernel configuration")
}

func TestBreakpointTypeSized(t *testing.T) {
	require.False(t, Software.Sized())
	require.False(t, Hardware.Sized())
	require.True(t, ReadWatch.Sized())
	require.True(t, WriteWatch.Sized())
	require.True(t, ReadWriteWatch.Sized())
}
