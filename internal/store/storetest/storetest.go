// Package storetest opens throwaway stores for tests
package storetest

import (
	"testing"

	"github.com/gmsas95/medtrack/internal/store"
	"github.com/stretchr/testify/require"
)

// New returns an in-memory store closed when the test ends
func New(t testing.TB) *store.Store {
	t.Helper()

	st, err := store.Open(store.MemoryPath, "")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return st
}
