// ABOUTME: Data types for application profiles and organizations.
// ABOUTME: Defines Profile, Organization, role tiers, and the data-store error sentinels.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist. For
// profiles this is an expected outcome: the server-side trigger that creates
// profiles at signup may not have run yet.
var ErrNotFound = errors.New("not found")

// AppRole is the application role tier carried on a profile.
type AppRole string

const (
	AppRoleUser       AppRole = "user"
	AppRoleOrgAdmin   AppRole = "org_admin"
	AppRoleSuperAdmin AppRole = "super_admin"
)

// Admin reports whether the role grants organization administration.
func (r AppRole) Admin() bool {
	return r == AppRoleOrgAdmin || r == AppRoleSuperAdmin
}

// Profile is the application record extending a principal. Its ID equals the
// principal's ID. BusinessRole stays nil until onboarding completes;
// OrganizationID stays nil until the profile joins a tenant.
type Profile struct {
	ID             string    `json:"id"`
	BusinessRole   *string   `json:"business_role"`
	AppRole        AppRole   `json:"app_role"`
	OrganizationID *string   `json:"organization_id"`
	Bio            string    `json:"bio"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
}

// Onboarded reports whether the profile completed onboarding.
func (p *Profile) Onboarded() bool {
	return p != nil && p.BusinessRole != nil && *p.BusinessRole != ""
}

// Organization is a tenant record grouping profiles. VerticalID names the
// business-domain configuration the tenant's queries are scoped to.
type Organization struct {
	ID         string    `json:"id"`
	VerticalID string    `json:"vertical_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

// DataStore is the remote data-store surface the engine consumes.
type DataStore interface {
	ProfileByID(ctx context.Context, id string) (*Profile, error)
	OrganizationByID(ctx context.Context, id string) (*Organization, error)
	CheckEmailExists(ctx context.Context, email string) (bool, error)
}
