package memory

import (
	"context"
	"testing"

	"github.com/edline/otpgate/internal/domain/repository"
	"github.com/edline/otpgate/internal/domain/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() *Store {
	s := New()
	s.Put(types.Principal{
		ID:    "u1",
		Email: "u1@example.edu",
		Channels: []types.CommunicationChannel{
			{ID: "ch1", Type: types.ChannelSMS, Path: "5551234567", State: types.ChannelUnconfirmed},
		},
	})
	return s
}

func TestGetByIDReturnsCopy(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	p, err := s.GetByID(ctx, "u1")
	require.NoError(t, err)

	// mutating the returned value must not leak into the store
	p.OTPSecret = "HACKED"
	p.Channels[0].State = types.ChannelActive

	again, err := s.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, again.OTPSecret)
	assert.Equal(t, types.ChannelUnconfirmed, again.Channels[0].State)
}

func TestGetByIDNotFound(t *testing.T) {
	s := New()
	_, err := s.GetByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCommitSecretDropsBackupCodes(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	require.NoError(t, s.SetBackupCodes(ctx, "u1", []string{"h1", "h2"}))
	require.Equal(t, 2, s.UnusedBackupCodeCount("u1"))

	require.NoError(t, s.CommitSecret(ctx, "u1", "NEWSECRET", "ch1"))
	assert.Equal(t, 0, s.UnusedBackupCodeCount("u1"), "old codes die with the old secret")

	p, err := s.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "NEWSECRET", p.OTPSecret)
	assert.Equal(t, "ch1", p.OTPChannel)
}

func TestClearSecret(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	require.NoError(t, s.CommitSecret(ctx, "u1", "SECRET", "ch1"))
	require.NoError(t, s.SetBackupCodes(ctx, "u1", []string{"h1"}))

	require.NoError(t, s.ClearSecret(ctx, "u1"))

	p, err := s.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, p.OTPSecret)
	assert.Empty(t, p.OTPChannel)
	assert.Equal(t, 0, s.UnusedBackupCodeCount("u1"))
}

func TestActivateChannelIdempotent(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	require.NoError(t, s.ActivateChannel(ctx, "u1", "ch1"))
	require.NoError(t, s.ActivateChannel(ctx, "u1", "ch1"), "second activation is not an error")

	assert.ErrorIs(t, s.ActivateChannel(ctx, "u1", "ghost"), repository.ErrNotFound)
}

func TestConsumeBackupCode(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	require.NoError(t, s.SetBackupCodes(ctx, "u1", []string{"h1"}))

	ok, err := s.ConsumeBackupCode(ctx, "u1", "h1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ConsumeBackupCode(ctx, "u1", "h1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ConsumeBackupCode(ctx, "u1", "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}
