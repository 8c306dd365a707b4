package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/memstate/internal/command"
)

var _ command.IDGenerator = (*FixedIDGenerator)(nil)

func TestFixedIDGenerator_ReturnsSameID(t *testing.T) {
	gen := NewFixedIDGenerator("cmd-42")
	assert.Equal(t, "cmd-42", gen.Generate())
	assert.Equal(t, "cmd-42", gen.Generate())
}

func TestFixedIDGenerator_EmptyIDDefault(t *testing.T) {
	gen := NewFixedIDGenerator("")
	assert.Equal(t, "test-cmd-default", gen.Generate())
}
