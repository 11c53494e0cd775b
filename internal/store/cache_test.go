// ABOUTME: Tests for the local SQLite profile cache.
// ABOUTME: Covers roundtrips, upserts, orphaned organization references, and deletion.

package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := NewCache(filepath.Join(t.TempDir(), "data", "cache.db"), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func strPtr(s string) *string { return &s }

func TestCache_PutGet_ProfileWithOrganization(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	profile := &Profile{
		ID:             "u1",
		BusinessRole:   strPtr("auditor"),
		AppRole:        AppRoleUser,
		OrganizationID: strPtr("org-1"),
		Bio:            "hello",
	}
	org := &Organization{ID: "org-1", VerticalID: "audit", Name: "Acme Audit"}

	require.NoError(t, c.PutProfile(ctx, profile, org))

	gotProfile, gotOrg, err := c.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", gotProfile.ID)
	assert.Equal(t, AppRoleUser, gotProfile.AppRole)
	require.NotNil(t, gotProfile.BusinessRole)
	assert.Equal(t, "auditor", *gotProfile.BusinessRole)
	assert.Equal(t, "hello", gotProfile.Bio)
	require.NotNil(t, gotOrg)
	assert.Equal(t, "audit", gotOrg.VerticalID)
}

func TestCache_PutGet_ProfileWithoutOrganization(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.PutProfile(ctx, &Profile{ID: "u1", AppRole: AppRoleUser}, nil))

	gotProfile, gotOrg, err := c.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", gotProfile.ID)
	assert.Nil(t, gotProfile.BusinessRole)
	assert.Nil(t, gotOrg)
}

func TestCache_Get_Missing(t *testing.T) {
	c := newTestCache(t)

	_, _, err := c.GetProfile(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_Get_OrphanedOrganizationReference(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	// Profile points at an org that was never cached
	profile := &Profile{ID: "u1", AppRole: AppRoleUser, OrganizationID: strPtr("org-gone")}
	require.NoError(t, c.PutProfile(ctx, profile, nil))

	gotProfile, gotOrg, err := c.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, gotProfile)
	assert.Nil(t, gotOrg, "missing organization row degrades to profile-only")
}

func TestCache_Put_Upserts(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.PutProfile(ctx, &Profile{ID: "u1", AppRole: AppRoleUser, Bio: "v1"}, nil))
	require.NoError(t, c.PutProfile(ctx, &Profile{ID: "u1", AppRole: AppRoleOrgAdmin, Bio: "v2"}, nil))

	gotProfile, _, err := c.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, AppRoleOrgAdmin, gotProfile.AppRole)
	assert.Equal(t, "v2", gotProfile.Bio)
}

func TestCache_DeleteProfile(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.PutProfile(ctx, &Profile{ID: "u1", AppRole: AppRoleUser}, nil))
	require.NoError(t, c.DeleteProfile(ctx, "u1"))

	_, _, err := c.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, c.DeleteProfile(ctx, "u1"), "deleting an absent profile is not an error")
}

func TestCache_ReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	logger := slog.New(slog.DiscardHandler)
	ctx := context.Background()

	c, err := NewCache(path, logger)
	require.NoError(t, err)
	require.NoError(t, c.PutProfile(ctx, &Profile{ID: "u1", AppRole: AppRoleSuperAdmin}, nil))
	require.NoError(t, c.Close())

	reopened, err := NewCache(path, logger)
	require.NoError(t, err)
	defer reopened.Close()

	gotProfile, _, err := reopened.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, AppRoleSuperAdmin, gotProfile.AppRole)
}
