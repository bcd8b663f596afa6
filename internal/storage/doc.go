// Package storage defines the Provider contract all backends implement and
// the registry used to open them by kind.
//
// # Architecture
//
// Two interchangeable backends exist:
//
//   - flatstore (KindFlat): key-addressed records in SQLite, no binary
//     capability, fit for quota-limited hosts
//   - treestore (KindTree): a directory tree of JSON documents with a
//     256-shard binary object store
//
// Both register themselves via Register from init, so importing a backend
// package is enough to make storage.Open work for its kind.
//
// # Contract
//
// The Provider interface gives per-entity load/save halves (chat meta and
// chat content are stored and locked independently), a binary object API
// gated by the CanPersistBinary capability flag, and Dump/Restore producing
// the backend-agnostic model.Snapshot used for migration and backup.
//
// Reads of a missing or corrupt single record return (nil, nil); bulk
// listings skip corrupt records. Writes validate before touching storage.
// Providers never lock: cross-process serialization is the coordinator's
// job, and the service layer always takes the proper key before writing.
package storage
