// Package signup serializes account-creation attempts, pre-checks email
// existence through the data store's privileged function, and classifies
// provider failures into a stable duplicate-email condition.
package signup
