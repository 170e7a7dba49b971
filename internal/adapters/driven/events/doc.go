// Package events delivers committed lifecycle events to subscribers.
//
// Bus is an in-process fan-out used by the CLI and tests. RedisPublisher
// sends each event as JSON to a Redis pub/sub channel so other processes
// can react to published change sets.
package events
