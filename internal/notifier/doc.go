// Package notifier fans alerts out to the outbound webhooks and the
// broadcast channel.
//
// Producers call Notifier.Notify with an Alert. Routing is decided by the
// current policy snapshot; delivery failures never reach the producer. A
// failed webhook post or broadcast becomes a record in the durable queue and
// is retried later by the drainer.
//
// The BestEffort variants perform the same sends without queueing. They are
// used for meta-alerts about the queue itself, which must not feed the queue
// they report on.
package notifier
