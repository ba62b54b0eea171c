package auth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pretalx-rt-sync/database"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	t.Setenv("DATABASE_URL", "")

	db, err := database.NewAdapter(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(db, "test-secret")
}

func TestRegisterAndLogin(t *testing.T) {
	service := newTestService(t)

	account, err := service.Register(RegisterRequest{
		Username: "operator",
		Email:    "op@example.com",
		Password: "hunter22",
	})
	require.NoError(t, err)
	assert.Equal(t, "operator", account.Username)

	_, err = service.Register(RegisterRequest{Username: "operator", Password: "other"})
	assert.ErrorIs(t, err, ErrAccountExists)

	resp, err := service.Login(LoginRequest{Username: "operator", Password: "hunter22"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, account.ID, resp.Account.ID)

	_, err = service.Login(LoginRequest{Username: "operator", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.Login(LoginRequest{Username: "nobody", Password: "hunter22"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenRoundTrip(t *testing.T) {
	service := newTestService(t)

	account, err := service.Register(RegisterRequest{
		Username: "operator",
		Email:    "op@example.com",
		Password: "hunter22",
	})
	require.NoError(t, err)

	resp, err := service.Login(LoginRequest{Username: "operator", Password: "hunter22"})
	require.NoError(t, err)

	claims, err := service.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.AccountID)
	assert.Equal(t, "operator", claims.Username)
	assert.Equal(t, "op@example.com", claims.Email)

	_, err = service.ValidateToken("not-a-token")
	assert.Error(t, err)

	// A token signed with a different secret is rejected.
	other := NewService(service.db, "other-secret")
	otherResp, err := other.RefreshToken(account.ID)
	require.NoError(t, err)
	_, err = service.ValidateToken(otherResp.Token)
	assert.Error(t, err)
}

func TestChangePassword(t *testing.T) {
	service := newTestService(t)

	account, err := service.Register(RegisterRequest{
		Username: "operator",
		Password: "oldpass",
	})
	require.NoError(t, err)

	err = service.ChangePassword(account.ID, ChangePasswordRequest{
		CurrentPassword: "wrong",
		NewPassword:     "newpass",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = service.ChangePassword(account.ID, ChangePasswordRequest{
		CurrentPassword: "oldpass",
		NewPassword:     "newpass",
	})
	require.NoError(t, err)

	_, err = service.Login(LoginRequest{Username: "operator", Password: "newpass"})
	assert.NoError(t, err)
	_, err = service.Login(LoginRequest{Username: "operator", Password: "oldpass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPasswordHashesAreSalted(t *testing.T) {
	service := newTestService(t)

	first := service.hashPassword("same-password")
	second := service.hashPassword("same-password")

	assert.NotEqual(t, first, second)
	assert.True(t, service.verifyPassword("same-password", first))
	assert.True(t, service.verifyPassword("same-password", second))
	assert.False(t, service.verifyPassword("different", first))
}
