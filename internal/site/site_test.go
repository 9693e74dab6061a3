package site

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultSelectors_Valid(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultSelectors().Validate())
}

func TestSelectors_ValidateReportsEmptyField(t *testing.T) {
	t.Parallel()

	s := DefaultSelectors()
	s.PageSelect = "  "

	err := s.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "page_select")
}
