// Package memory holds the long-lived learned state of one remediation
// engine: error counts, fix outcomes, patterns, tendencies, stability and
// balance metrics, hypotheses, and a bounded history of applied actions.
//
// A Store is pure data plus accessors. Every method is total: unknown keys
// are created on first write and reads of missing keys report ok=false.
// Derived fields (stability status, balance deviation, tendency trend) are
// recomputed under the same write lock that stores the value, so readers
// never observe them mid-update.
//
// Bounded collections evict their oldest entry on overflow. Eviction is a
// constant-time overwrite and never blocks writers.
package memory
