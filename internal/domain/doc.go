// Package domain defines the core data types shared across mailscope:
// send requests, sent-message records, tracking events, and per-user
// provider connections. It has no dependencies on other internal packages
// so that service, repository, and handler layers can all import it.
package domain
