// Package consumer implements an authenticated, replay-capable
// topic-partition consumer core: keytab credential lifecycle, a supervised
// broker session with backoff, explicit assignment tracking, a per-partition
// offset ledger, and a restartable poll loop with at-least-once
// acknowledgment bookkeeping.
package consumer
