// Package store is the application-state side of the realtime layer.
//
// The connection manager and the message router never touch dashboard
// state directly. They emit typed events through a Dispatcher; Memory
// reduces those events into per-workflow views and republishes each event
// to subscribers on the workflow's topic and on AllTopic.
package store
