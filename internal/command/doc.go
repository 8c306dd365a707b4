// Package command defines the unit of intent submitted to the engine.
//
// A Command is a plain value carrying a stable identifier and a capability
// tag (Kind). Mutating commands change model state and are journaled before
// they are acknowledged. Query commands only read and are never journaled
// unless the engine is configured to journal queries.
//
// Concrete command variants are supplied by the embedding application and
// registered by name in a Registry so that serializers can rebuild them
// during replay.
package command
