// Package render converts retrieval answers between output formats.
package render
