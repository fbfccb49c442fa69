package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenRedeemableUntilExactlyOneRedeem(t *testing.T) {
	ts := NewTokenStore(newTestDB(t))

	token, err := ts.Issue("lab machines")
	require.NoError(t, err)
	require.NotEmpty(t, token.Token)
	require.Nil(t, token.UsedAt)

	ok, err := ts.IsRedeemable(token.Token)
	require.NoError(t, err)
	require.True(t, ok)

	consumed, err := ts.Redeem(token.Token, 7)
	require.NoError(t, err)
	require.True(t, consumed)

	ok, err = ts.IsRedeemable(token.Token)
	require.NoError(t, err)
	require.False(t, ok)

	// A second redeem is a no-op, whoever the claimant.
	consumed, err = ts.Redeem(token.Token, 8)
	require.NoError(t, err)
	require.False(t, consumed)

	stored, err := ts.Get(token.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.UsedAt)
	require.NotNil(t, stored.UsedByComputerID)
	require.Equal(t, uint(7), *stored.UsedByComputerID)
}

func TestRedeemUnknownToken(t *testing.T) {
	ts := NewTokenStore(newTestDB(t))

	consumed, err := ts.Redeem("no-such-token", 1)
	require.NoError(t, err)
	require.False(t, consumed)

	ok, err := ts.IsRedeemable("no-such-token")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteRefusesUsedToken(t *testing.T) {
	ts := NewTokenStore(newTestDB(t))

	token, err := ts.Issue("")
	require.NoError(t, err)

	_, err = ts.Redeem(token.Token, 3)
	require.NoError(t, err)

	deleted, err := ts.Delete(token.ID)
	require.NoError(t, err)
	require.False(t, deleted)

	// Revoke force-deletes regardless of usage.
	revoked, err := ts.Revoke(token.ID)
	require.NoError(t, err)
	require.True(t, revoked)

	_, err = ts.Get(token.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUnusedToken(t *testing.T) {
	ts := NewTokenStore(newTestDB(t))

	token, err := ts.Issue("")
	require.NoError(t, err)

	deleted, err := ts.Delete(token.ID)
	require.NoError(t, err)
	require.True(t, deleted)
}

func TestListTokensNewestFirst(t *testing.T) {
	ts := NewTokenStore(newTestDB(t))

	first, err := ts.Issue("first")
	require.NoError(t, err)
	second, err := ts.Issue("second")
	require.NoError(t, err)

	tokens, err := ts.List()
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	require.NotEqual(t, first.Token, second.Token)
}
