// Package domain holds the inventory, order and audit shapes shared by the
// conversation engine, the transaction executor and the store.
//
// Nothing in this package performs I/O. Amounts of money are carried as
// integer minor units (Money) so totals never accumulate float error.
package domain
