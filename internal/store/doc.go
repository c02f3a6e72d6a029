// Package store defines interfaces for persistence dependencies (listing
// records and their write batches). Implementations live in other packages;
// this package must not import database drivers or concrete clients.
package store
