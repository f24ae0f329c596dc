// Package store implements the action dispatch pipeline.
//
// A Store holds application state and a chain of middleware in front of a
// reducer:
//   - Dispatch only enqueues; a single Run loop drains the queue in order
//   - Middleware may dispatch further actions, which run after the current one
//   - Listeners observe every action once it has been reduced
package store
