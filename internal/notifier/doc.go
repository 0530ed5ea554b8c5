// Package notifier turns run events into operator alerts on Telegram.
//
// Only two events produce messages: an exhausted run always alerts, and a
// successful run uploads its screenshot when enabled. Everything else on the
// bus is ignored. Delivery is best-effort and throttled; a message denied by
// the limiter is dropped, never queued.
package notifier
