package config

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
	return NewService(db)
}

func TestUpdateSettingsFillsDefaults(t *testing.T) {
	service := newTestService(t)

	settings, err := service.UpdateSettings(1, UpdateSettingsRequest{Slug: "democon"})
	require.NoError(t, err)

	assert.Equal(t, "democon", settings.Queue)
	assert.Equal(t, DefaultInitialStatus, settings.InitialStatus)
	assert.Equal(t, DefaultMinSyncMinutes, settings.MinSyncMinutes)
	assert.False(t, settings.Enabled)
}

func TestUpdateSettingsRequiresSlug(t *testing.T) {
	service := newTestService(t)

	_, err := service.UpdateSettings(1, UpdateSettingsRequest{})
	assert.Error(t, err)
}

func TestUpdateSettingsEnableRequiresCredentials(t *testing.T) {
	service := newTestService(t)

	_, err := service.UpdateSettings(1, UpdateSettingsRequest{Slug: "democon", Enabled: true})
	assert.Error(t, err)

	_, err = service.UpdateSettings(1, UpdateSettingsRequest{
		Slug:    "democon",
		Enabled: true,
		BaseURL: "https://rt.example.com/REST/2.0",
		Token:   "tok",
	})
	assert.NoError(t, err)
}

func TestUpdateSettingsTrimsBaseURL(t *testing.T) {
	service := newTestService(t)

	settings, err := service.UpdateSettings(1, UpdateSettingsRequest{
		Slug:    "democon",
		BaseURL: "https://rt.example.com/REST/2.0/",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://rt.example.com/REST/2.0", settings.BaseURL)
}

func TestResolveTokenPrefersUserOverride(t *testing.T) {
	service := newTestService(t)

	settings, err := service.UpdateSettings(1, UpdateSettingsRequest{
		Slug:    "democon",
		Enabled: true,
		BaseURL: "https://rt.example.com/REST/2.0",
		Token:   "event-tok",
	})
	require.NoError(t, err)

	require.NoError(t, service.SaveUserToken(1, "alice@example.com", "alice-tok"))

	token, err := service.ResolveToken(settings, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice-tok", token)

	token, err = service.ResolveToken(settings, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "event-tok", token)

	// An empty email never consults overrides.
	token, err = service.ResolveToken(settings, "")
	require.NoError(t, err)
	assert.Equal(t, "event-tok", token)
}

func TestSaveUserTokenEmptyClearsOverride(t *testing.T) {
	service := newTestService(t)

	settings, err := service.UpdateSettings(1, UpdateSettingsRequest{
		Slug:    "democon",
		Enabled: true,
		BaseURL: "https://rt.example.com/REST/2.0",
		Token:   "event-tok",
	})
	require.NoError(t, err)

	require.NoError(t, service.SaveUserToken(1, "alice@example.com", "alice-tok"))
	require.NoError(t, service.SaveUserToken(1, "alice@example.com", ""))

	token, err := service.ResolveToken(settings, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "event-tok", token)
}
