// Package store provides storage and pub/sub functionality for monitoring
// results.
//
// This package is internal to DeskPulse and manages the in-memory storage
// of agent and view statuses. It implements a publish-subscribe pattern
// for real-time updates to connected dashboard clients.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [AgentStatus], [ViewStatus]: Storage representations of monitored state
//
// The store is designed for concurrent access with proper synchronization.
// Subscribers receive events via channels with non-blocking sends (slow
// subscribers will miss events rather than block the system).
//
// Users of the deskpulse library should not need to interact with this
// package directly. Storage is managed internally by DeskPulse.
package store
