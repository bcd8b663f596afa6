// Package treestore implements the hierarchical storage backend: one JSON
// document per entity in a predictable directory layout, plus a sharded
// binary object store.
//
// # Layout
//
//	<data>/tree/
//	  settings.json
//	  hierarchy.json
//	  chats/<id>/meta.json
//	  chats/<id>/content.json
//	  groups/<id>.json
//	  blobs/<shard>/<id>.bin
//	  blobs/<shard>/<id>.ok
//	  blobs/<shard>/index.json
//
// # Atomicity
//
// Every document write goes through fsutil.AtomicWriteFile (temp file in the
// target directory, fsync, rename), so an unlocked reader racing a writer
// observes either the previous document or the new one, never a torn write.
//
// # The blob store
//
// Binary payloads shard into 256 buckets named by the lowercase hex of the
// object id's trailing byte, keeping every directory bounded. The commit
// protocol per object: write and sync <id>.bin, then create the zero-length
// <id>.ok marker, then update the bucket's index.json. A reader treats a
// missing marker as "not yet committed". The index is read-modify-written
// per change, which is why the service serializes bucket writes through
// the coordinator before calling SaveFile or DeleteBinaryObject.
package treestore
