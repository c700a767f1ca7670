// Package dispatch orchestrates one logical send: it flattens the recipient
// list, instruments each recipient's copy with tracking, submits the copies
// through the user's connected provider, and reduces the per-recipient
// outcomes into a single persisted SentMessage. Per-recipient failures are
// captured in the record rather than aborting the remaining recipients.
package dispatch
