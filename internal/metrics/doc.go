// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Actions flowing through the store, by type
//   - Store queue depth and throughput
//   - Hub connection phase and subscriptions
//   - Journal inserts, errors and dropped batches
//
// Metrics live in a dedicated registry served by Handler.
package metrics
