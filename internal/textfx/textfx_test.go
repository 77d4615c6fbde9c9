package textfx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPauses(t *testing.T) {
	assert.Equal(t, "Olá. [...] Tudo bem. [...] Sim.", Pauses("Olá. Tudo bem. Sim."))
	assert.Equal(t, "v1.2 sem pausa", Pauses("v1.2 sem pausa"))
}

func TestChain(t *testing.T) {
	fn := Chain(Collapse, nil, Pauses, strings.ToUpper)
	assert.Equal(t, "A. [...] B", fn("  a.   b "))
	assert.Equal(t, "x", Chain()("x"))
}
