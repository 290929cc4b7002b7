// Package knowledge defines the engine's data model and failure taxonomy.
//
// The types here are shared by every component: documents and chunks on the
// write path, retrieval results and answers on the read path, and the
// sentinel errors that classify failures across backend boundaries.
//
// Invariants:
//   - (DocID, ChunkID) is globally unique; chunks are replaced, never mutated
//   - RetrievalResult is ordered ascending by raw distance
//   - required metadata keys (source_uri, ingested_at) are validated at the
//     ingestion boundary, not deferred to query time
package knowledge
