package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState(t *testing.T) {
	s := NewState()
	assert.True(t, s.Online())
	assert.True(t, s.Foreground())
	assert.True(t, s.CanSync())

	s.SetOnline(false)
	assert.False(t, s.Online())
	assert.False(t, s.CanSync())

	s.SetOnline(true)
	s.SetForeground(false)
	assert.False(t, s.Foreground())
	assert.False(t, s.CanSync())
}
