// Package memory defines the contract shared by every knowledge source that
// the unified memory routes across.
//
// Architecture:
//   - Adapter: uniform capability surface over one backend (graph-fact store,
//     markdown notes, learning ledger, multi-hop reasoner)
//   - Writer / StatsProvider / Disconnecter: optional capabilities, discovered
//     with a type assertion at runtime
//   - Result: the envelope every adapter returns, score clamped to [0,1]
//   - WritePayload: a single write request, consumed once by the bus
//
// Adapters never surface internal failures from Query: they log, and return
// an empty slice. Initialize reports availability instead of failing.
package memory
