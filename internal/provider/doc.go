// Package provider implements the REST client for the identity provider's
// /auth/v1 surface: account creation, password and OAuth sign-in, token
// refresh, sign-out, and password recovery.
//
// The client is stateless. Session persistence and lifecycle event
// publication live in the session package; orchestration lives in authstate.
package provider
