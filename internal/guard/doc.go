// Package guard provides a single-permit exclusive-access guard used to
// serialize operations that must never run twice concurrently, such as
// profile fetches and signup attempts.
package guard
