// Package notify delivers human-visible alerts raised by containers and by
// the daemon's stall detector.
//
// A notification passes a deduplication window keyed by session identity
// and content, an optional LLM summarizer bounded by a timeout, and then
// every configured sink. Delivery is best-effort: sink failures are logged
// and recorded on the notification but never retried.
package notify
