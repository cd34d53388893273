// Package store holds the latest report per project in memory. Entries
// expire after a TTL so projects that stopped reporting drop out of the
// portfolio; the history package keeps the long-term record.
package store
