package tokenutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateFast(t *testing.T) {
	assert.Equal(t, 0, EstimateFast("   "))
	assert.Equal(t, 1, EstimateFast("hi"))
	assert.Equal(t, 5, EstimateFast("one two three four five"))
}

func TestCountTokensFallsBackWhenDisabled(t *testing.T) {
	Disable()
	assert.Equal(t, EstimateFast("The answer is 42"), CountTokens("The answer is 42"))
}
