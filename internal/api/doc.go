// Package api is the authenticated HTTP surface: account registration and
// login, provider connect flows, sending, message history, and per-message
// engagement analytics. Beacon endpoints live in the tracking package and
// are served separately so they stay unauthenticated and fast.
package api
