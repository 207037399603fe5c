// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Keeps one persistent WebSocket per active workflow
//   - Supervises liveness with application heartbeats
//   - Reconnects abnormally closed transports with exponential backoff
//   - Queues outbound frames while disconnected and flushes them in order on open
//   - Tracks sent frames until the gateway acknowledges them
//   - Hands inbound frames to a Handler (the Message Router)
//
// Every registry mutation happens under one mutex. Store dispatch,
// transport start and transport close run after the mutex is released, in
// the order the critical section produced them.
package connection
