// Package driving declares what the CLI and the HTTP API may ask of the
// core. Every mutating call takes a domain.AuditContext naming the actor.
package driving
