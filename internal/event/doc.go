// Package event defines the diagnostic events emitted by a connected
// application and consumed by the remediation engine.
//
// An Event is immutable once created. Its Payload is decoded into one of a
// small family of typed variants keyed by the event Type, with OpaquePayload
// as the fallback for types the engine does not reason about.
//
// Events travel as JSON. Both the flat form used by the runtime bridge
// ("attackerValue": 5) and the nested form ("attacker": {"value": 5}) are
// accepted for capture payloads.
package event
