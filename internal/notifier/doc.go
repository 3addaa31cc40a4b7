// Package notifier delivers share reports to a chat.
//
// Notify only enqueues; a small worker pool drains the queue through a
// rate limiter and hands formatted text to a transport.Sender (Telegram in
// production). Delivery failures are logged and published on the event bus,
// never returned to the caller and never retried.
package notifier
