package crypto_test

import (
	"testing"

	"github.com/gatehouse-id/gatehouse/pkg/crypto"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateShape(t *testing.T) {
	state := crypto.NewState()

	assert.Len(t, state, 43)
	assert.GreaterOrEqual(t, len(state), 22)
	assert.NotContains(t, state, "=")
	assert.NotContains(t, state, "+")
	assert.NotContains(t, state, "/")
}

func TestNewStateUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		s := crypto.NewState()
		_, dup := seen[s]
		require.False(t, dup)
		seen[s] = struct{}{}
	}
}

func TestNewCodeVerifierLength(t *testing.T) {
	assert.Len(t, crypto.NewCodeVerifier(), 43)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hasher := crypto.NewPasswordHasher(crypto.MinCost)

	hash, err := hasher.Hash("extremely-l0ng-and-rand0m-passphrase!")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	assert.NoError(t, hasher.Verify(hash, "extremely-l0ng-and-rand0m-passphrase!"))
	assert.Error(t, hasher.Verify(hash, "wrong"))
}

func TestPasswordStrengthEnforced(t *testing.T) {
	hasher := crypto.NewPasswordHasher(crypto.MinCost)

	_, err := hasher.Hash("abc")
	require.Error(t, err)
	assert.True(t, errs.IsInvalid(err))
}

func TestPasswordEmptyRejected(t *testing.T) {
	hasher := crypto.NewPasswordHasher(crypto.MinCost)

	_, err := hasher.Hash("")
	assert.True(t, errs.IsInvalid(err))
}
