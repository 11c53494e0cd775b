// Package session owns the current identity-provider session: persistence
// across process runs, lifecycle event publication, and token auto-refresh.
//
// The Channel type is an explicit publish/subscribe stream with typed
// subscribe/unsubscribe handles; there is no ambient broadcast. All session
// mutations flow through the Manager, which guarantees that event publish
// order matches provider operation order.
package session
