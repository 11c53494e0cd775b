// Package query dispatches authenticated questions to the remote
// retrieval/answer service and normalizes its response and error shapes.
package query
