package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	t.Setenv("MARCHE_TEST_SET", "  value ")
	t.Setenv("MARCHE_TEST_BLANK", "   ")

	assert.Equal(t, "value", Get("MARCHE_TEST_SET", "fallback"))
	assert.Equal(t, "fallback", Get("MARCHE_TEST_BLANK", "fallback"))
	assert.Equal(t, "fallback", Get("MARCHE_TEST_UNSET", "fallback"))
}

func TestFirst(t *testing.T) {
	t.Setenv("MARCHE_TEST_B", "b")
	t.Setenv("MARCHE_TEST_C", "c")

	assert.Equal(t, "b", First("MARCHE_TEST_A", "MARCHE_TEST_B", "MARCHE_TEST_C"))
	assert.Empty(t, First("MARCHE_TEST_A"))
}
