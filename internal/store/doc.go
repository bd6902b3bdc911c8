// Package store provides SQLite-backed durable storage for conversations and
// the inventory they act on.
//
// Tables:
//   - sessions: one row per identity, full session state as JSON, indexed on
//     updated_at for idle sweeps
//   - products: the catalog, with a version column for optimistic
//     concurrency on stock writes
//   - audit_records: append-only quantity changes (UPDATE and DELETE are
//     rejected by triggers)
//   - commits: one row per applied commit key, holding the receipt so a
//     replayed commit returns the original result instead of applying twice
//   - customers, orders, order_items, approvals: the order side
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//   - one open connection: SQLite has a single writer, and transactions
//     from different goroutines queue on the connection instead of failing
//     with SQLITE_BUSY
//
// Timestamps are stored as fixed-width UTC text so that lexical order is
// time order.
package store
