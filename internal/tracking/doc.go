// Package tracking implements the open/click tracking pipeline: the URL
// codec that mints and parses beacon URLs, the content rewriter that
// instruments outgoing message bodies per recipient, the event recorder
// that filters and persists beacon hits, and the HTTP handler serving the
// pixel and redirect endpoints.
//
// The codec and rewriter are pure; the recorder depends on store interfaces
// defined in this package with implementations under repository/postgres.
package tracking
