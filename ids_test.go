package toolstream

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	a, b := NewID("approval"), NewID("approval")
	assert.NotEqual(t, a, b)
	rest, ok := strings.CutPrefix(a, "approval-")
	require.True(t, ok, a)
	_, err := uuid.Parse(rest)
	require.NoError(t, err)
}
