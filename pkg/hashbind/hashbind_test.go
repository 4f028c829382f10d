package hashbind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindDeterministic(t *testing.T) {
	args := []any{"acct-1", uint64(7)}

	k1, err := Bind("ownership.add", 42, false, args)
	require.NoError(t, err)
	k2, err := Bind("ownership.add", 42, false, args)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.False(t, k1.IsZero())
}

func TestBindSensitivity(t *testing.T) {
	base, err := Bind("ownership.add", 42, false, []any{"acct-1", uint64(7)})
	require.NoError(t, err)

	tests := []struct {
		name     string
		bindName string
		campaign uint64
		resolved bool
		args     []any
	}{
		{"different name", "ownership.delete", 42, false, []any{"acct-1", uint64(7)}},
		{"different campaign", "ownership.add", 43, false, []any{"acct-1", uint64(7)}},
		{"different resolved flag", "ownership.add", 42, true, []any{"acct-1", uint64(7)}},
		{"different argument value", "ownership.add", 42, false, []any{"acct-1", uint64(8)}},
		{"different argument account", "ownership.add", 42, false, []any{"acct-2", uint64(7)}},
		{"extra argument", "ownership.add", 42, false, []any{"acct-1", uint64(7), true}},
		{"fewer arguments", "ownership.add", 42, false, []any{"acct-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := Bind(tt.bindName, tt.campaign, tt.resolved, tt.args)
			require.NoError(t, err)
			assert.NotEqual(t, base, k)
		})
	}
}

func TestBindNilArgsEqualsEmpty(t *testing.T) {
	k1, err := Bind("op", 1, false, nil)
	require.NoError(t, err)
	k2, err := Bind("op", 1, false, []any{})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestParseKeyRoundTrip(t *testing.T) {
	k, err := Bind("op", 9, false, []any{"x"})
	require.NoError(t, err)

	parsed, err := ParseKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)
}

func TestParseKeyRejectsBadInput(t *testing.T) {
	_, err := ParseKey("not-hex")
	assert.Error(t, err)

	_, err = ParseKey("abcd")
	assert.Error(t, err)
}

func TestCommitmentBindsSecretAndSeed(t *testing.T) {
	c := Commitment(1234, 99)

	assert.Equal(t, c, Commitment(1234, 99))
	assert.NotEqual(t, c, Commitment(1234, 100))
	assert.NotEqual(t, c, Commitment(1235, 99))
	assert.NotEqual(t, c, Commitment(-1234, 99))
	assert.False(t, c.IsZero())
}
