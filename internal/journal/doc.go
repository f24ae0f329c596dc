// Package journal records dispatched actions into PostgreSQL.
//
// The Writer is plugged into the store as a middleware stage. Actions are
// encoded as JSON and appended to an in-memory batch which is written with
// pgx.Batch on an interval or when it fills up. Database failures are
// logged and counted; they never block dispatching.
//
// See Schema for the table layout.
package journal

import "errors"

// ErrNoDatabase is reported when a flush runs without a database.
var ErrNoDatabase = errors.New("journal has no database")
