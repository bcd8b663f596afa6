// ABOUTME: Tests for the sharded blob store: commit markers, shard collisions, index safety
// ABOUTME: Covers the not-yet-committed read path and delete ordering

package treestore

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/emberchat/ember/internal/model"
	"github.com/emberchat/ember/internal/storage"
)

func TestShardFor(t *testing.T) {
	if got := shardFor("abc"); got != "63" {
		t.Errorf("shardFor(abc): got %q, want 63 (hex of 'c')", got)
	}
	// Same trailing byte lands in the same bucket regardless of the rest.
	if shardFor("xxx-c") != shardFor("yyy-c") {
		t.Error("ids with same trailing byte must share a bucket")
	}
}

func TestSaveAndGetFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blob := []byte("binary payload bytes")
	err := s.SaveFile(ctx, &storage.SaveFileRequest{
		BinaryObjectID: "obj-1",
		Name:           "photo.png",
		MimeType:       "image/png",
		Blob:           blob,
	})
	if err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	got, err := s.GetFile(ctx, "obj-1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Errorf("bytes differ: got %q", got)
	}

	objects, err := s.ListBinaryObjects(ctx)
	if err != nil {
		t.Fatalf("ListBinaryObjects: %v", err)
	}
	if len(objects) != 1 || objects[0].Name != "photo.png" || objects[0].Size != int64(len(blob)) {
		t.Errorf("listing mismatch: %+v", objects)
	}

	has, err := s.HasAttachments(ctx)
	if err != nil || !has {
		t.Errorf("HasAttachments: got (%v, %v), want (true, nil)", has, err)
	}
}

func TestGetFileMissing(t *testing.T) {
	s := newTestStore(t)
	data, err := s.GetFile(context.Background(), "never-written")
	if err != nil || data != nil {
		t.Errorf("missing object: got (%v, %v), want (nil, nil)", data, err)
	}
}

func TestMissingMarkerReadsAsUncommitted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveFile(ctx, &storage.SaveFileRequest{
		BinaryObjectID: "obj-1", Blob: []byte("data"),
	}); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	// Simulate a crash between the bytes write and the marker write.
	if err := os.Remove(s.markerPath("obj-1")); err != nil {
		t.Fatal(err)
	}

	data, err := s.GetFile(ctx, "obj-1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if data != nil {
		t.Error("bytes without a commit marker must read as absent")
	}

	objects, err := s.ListBinaryObjects(ctx)
	if err != nil {
		t.Fatalf("ListBinaryObjects: %v", err)
	}
	if len(objects) != 0 {
		t.Errorf("uncommitted object listed: %+v", objects)
	}
}

func TestShardCollisionSafety(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Both ids end in 'z' and therefore share bucket 7a.
	first := []byte("first object")
	second := []byte("second object")
	if err := s.SaveFile(ctx, &storage.SaveFileRequest{
		BinaryObjectID: "aaa-z", Name: "one", Blob: first,
	}); err != nil {
		t.Fatalf("SaveFile first: %v", err)
	}
	if err := s.SaveFile(ctx, &storage.SaveFileRequest{
		BinaryObjectID: "bbb-z", Name: "two", Blob: second,
	}); err != nil {
		t.Fatalf("SaveFile second: %v", err)
	}

	if shardFor("aaa-z") != shardFor("bbb-z") {
		t.Fatal("test ids must collide on shard")
	}

	g1, err := s.GetFile(ctx, "aaa-z")
	if err != nil || !bytes.Equal(g1, first) {
		t.Errorf("first object clobbered: (%q, %v)", g1, err)
	}
	g2, err := s.GetFile(ctx, "bbb-z")
	if err != nil || !bytes.Equal(g2, second) {
		t.Errorf("second object clobbered: (%q, %v)", g2, err)
	}

	// Both index entries survive in the shared bucket index.
	idx := s.readIndex(shardFor("aaa-z"))
	if len(idx) != 2 {
		t.Errorf("bucket index: got %d entries, want 2", len(idx))
	}
}

func TestListSkipsIndexEntryWithoutID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveFile(ctx, &storage.SaveFileRequest{
		BinaryObjectID: "obj-keep", Blob: []byte("kept"),
	}); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	// A corrupt bucket index may carry an entry with an empty id; the
	// listing must skip it rather than fail.
	if err := s.writeIndex("00", bucketIndex{"": indexEntry{Size: 1}}); err != nil {
		t.Fatal(err)
	}

	objects, err := s.ListBinaryObjects(ctx)
	if err != nil {
		t.Fatalf("ListBinaryObjects: %v", err)
	}
	if len(objects) != 1 || objects[0].ID != "obj-keep" {
		t.Errorf("listing mismatch: %+v", objects)
	}
}

func TestDeleteBinaryObject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveFile(ctx, &storage.SaveFileRequest{
		BinaryObjectID: "obj-del", Blob: []byte("x"),
	}); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	if err := s.DeleteBinaryObject(ctx, "obj-del"); err != nil {
		t.Fatalf("DeleteBinaryObject: %v", err)
	}
	data, err := s.GetFile(ctx, "obj-del")
	if err != nil || data != nil {
		t.Errorf("deleted object still readable: (%v, %v)", data, err)
	}
	if len(s.readIndex(shardFor("obj-del"))) != 0 {
		t.Error("index entry survived delete")
	}

	// Deleting an unknown object is a no-op.
	if err := s.DeleteBinaryObject(ctx, "never-there"); err != nil {
		t.Errorf("deleting unknown object: %v", err)
	}
}

func TestDumpCarriesBlobBytes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blob := []byte("carried bytes")
	if err := s.SaveFile(ctx, &storage.SaveFileRequest{
		BinaryObjectID: "obj-dump", Name: "f.bin", Blob: blob,
	}); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	snap, err := s.Dump(ctx)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	var found bool
	for {
		chunk, err := snap.Content.Next()
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		if chunk == nil {
			break
		}
		if chunk.Type == model.ChunkBinaryObject && chunk.Binary.ID == "obj-dump" {
			found = true
			if !bytes.Equal(chunk.Binary.Blob, blob) {
				t.Error("dumped blob bytes differ")
			}
		}
	}
	if !found {
		t.Error("binary object chunk missing from dump")
	}
}
