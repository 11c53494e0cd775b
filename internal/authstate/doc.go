// Package authstate is the identity/session synchronization engine. It
// consumes session lifecycle events in delivery order, drives profile
// loading, owns the profile and signup guards, and publishes an immutable
// authentication snapshot that all consumers read.
//
// The snapshot is replaced atomically on every change; a consumer can never
// observe a half-updated tuple. In-flight asynchronous work captures a
// session generation when it starts and silently discards its result if the
// session changed or the machine closed in the interim.
package authstate
