// Package store provides the application data layer: the remote
// PostgREST-style client for profiles, organizations, and the
// check_email_exists function, plus a local SQLite cache of the last loaded
// profile for offline display.
package store
