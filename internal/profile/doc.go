// Package profile loads the application profile and owning organization for
// an authenticated principal, serialized behind a single-permit guard so
// duplicate concurrent loads collapse to one fetch.
package profile
