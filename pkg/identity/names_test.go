package identity

import (
	"testing"

	"github.com/haasonsaas/areuok/pkg/apperr"
	"github.com/stretchr/testify/require"
)

func TestNamePolicyFoldsCaseByDefault(t *testing.T) {
	p := NamePolicy{MinLength: 2, MaxLength: 32}
	display, key, err := p.Normalize("  Alice ")
	require.NoError(t, err)
	require.Equal(t, "Alice", display)
	require.Equal(t, "alice", key)
	require.Equal(t, p.Key("ALICE"), key)

	// German sharp s folds to "ss".
	require.Equal(t, p.Key("STRASSE"), p.Key("straße"))
}

func TestNamePolicyCaseSensitive(t *testing.T) {
	p := NamePolicy{CaseSensitive: true}
	require.NotEqual(t, p.Key("Alice"), p.Key("alice"))
}

func TestNamePolicyNormalizesComposition(t *testing.T) {
	p := NamePolicy{}
	composed := "Zo\u00e9"
	decomposed := "Zoe\u0301"
	require.Equal(t, p.Key(composed), p.Key(decomposed))
	require.Equal(t, composed, p.Canonical(decomposed))
}

func TestNamePolicyRejects(t *testing.T) {
	p := NamePolicy{MinLength: 2, MaxLength: 5, Reserved: []string{"Admin"}}

	for _, name := range []string{"", "   ", "a", "toolong", "a\tb"} {
		_, _, err := p.Normalize(name)
		require.ErrorIs(t, err, apperr.ErrInvalidInput, name)
	}

	_, _, err := p.Normalize("ADMIN")
	require.ErrorIs(t, err, apperr.ErrNameConflict)

	// Length counts runes, not bytes.
	_, _, err = p.Normalize("小明")
	require.NoError(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("supervisor")
	require.NoError(t, err)
	require.Equal(t, ModeSupervisor, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeSignin, m)

	_, err = ParseMode("admin")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}
