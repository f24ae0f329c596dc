// Package signal bridges a hub connection into the store's action pipeline.
//
// The bridge:
//   - Owns exactly one connection per session (Manager)
//   - Forwards server events as EventOccurred (Registry)
//   - Runs Send and Invoke against the live connection (Invoker)
//   - Routes JoinConference, SubscribeEvent, Send, Invoke and Close from the
//     store and always passes them on unchanged (Bridge.Middleware)
//
// Every network outcome comes back as a new action dispatched into the same
// store. Operations issued without a live connection are silently dropped;
// callers track readiness through ConferenceJoined, ConferenceJoinError and
// ConnectionClosed.
package signal
