// Package database provides the PostgreSQL connection pool used by the
// action journal.
package database
