// Package auth owns user identity: account registration and login with
// JWT sessions, plus the OAuth flows that link a Gmail or Outlook account
// to a user for sending. Linked accounts are stored as provider connections
// with their offline-access token pairs.
package auth
