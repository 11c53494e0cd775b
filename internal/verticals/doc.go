// Package verticals embeds the catalog of business-domain verticals used to
// scope retrieval queries.
package verticals
