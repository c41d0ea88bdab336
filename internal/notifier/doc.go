// Package notifier sends short operator alerts to a Telegram chat when
// scheduled items fail or a reel workflow ends degraded.
//
// Alerts go through a queue drained by a worker, a token-bucket rate limit,
// a small retry loop, and a dedup window so a flapping item does not flood
// the chat. Dedup entries can be persisted so the window survives restarts.
package notifier
