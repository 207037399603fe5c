// Package model defines the workflow view types shared by the router, the
// state store and the journal.
//
// Conventions:
//   - Timestamps: time.Time in UTC
//   - IDs: opaque strings assigned by the gateway (workflow, agent, artifact)
//   - Agent outputs and artifact metadata stay as raw JSON; the dashboard
//     owns their shape
package model
