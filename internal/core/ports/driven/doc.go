// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - Store: Version, change set and audit persistence (memory or SQLite)
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - EventPublisher: Post-commit event delivery. Without it, events are dropped.
//   - Locker: In-flight transition guard. Defaults to an in-process lock.
//   - Metrics: Operational measurements. Defaults to a no-op.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
