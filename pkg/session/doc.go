// Package session keeps prompt-cache identity stable across the turns of a
// long, branching coding conversation.
//
// Every request is mapped to a lineage (a base conversation id plus an
// optional fork id). The [Manager] stamps the lineage's prompt cache key onto
// the request and records the request's turns. When the next request's
// history is not an extension of the recorded one (an unrelated restart, a
// rewound or edited history, a fork sent without a fork id) the lineage is
// regenerated under a fresh random key: serving a cached prefix against the
// wrong history is a correctness bug, while a new key only costs a cache miss.
//
// The [Store] bounds memory two ways. Inserting into a full store evicts the
// least recently updated lineage, and [Store.PruneExpired] drops lineages idle
// past the TTL. Pruning is driven by an external scheduler.
//
// Compaction summaries are stored per lineage, so one fork's summary is never
// replayed into another fork's history.
package session
