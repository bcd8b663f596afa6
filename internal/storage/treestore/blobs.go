// ABOUTME: Sharded binary object store: 256 buckets keyed by the id's trailing byte
// ABOUTME: A zero-length .ok marker written after the synced bytes file is the commit signal

package treestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/emberchat/ember/internal/fsutil"
	"github.com/emberchat/ember/internal/model"
	"github.com/emberchat/ember/internal/storage"
)

// indexEntry is one binary object's metadata inside a bucket index.
type indexEntry struct {
	Name      string    `json:"name,omitempty"`
	MimeType  string    `json:"mime_type,omitempty"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// bucketIndex is the per-bucket index document mapping object id to
// metadata. It is read-modify-written on every add or remove, so bucket
// writes must be serialized by the caller through the coordinator.
type bucketIndex map[string]indexEntry

// shardFor returns the bucket name for an object id: the lowercase hex of
// the id's trailing byte, giving 256 buckets so no single directory
// accumulates unbounded entries.
func shardFor(id string) string {
	return fmt.Sprintf("%02x", id[len(id)-1])
}

func (s *Store) bucketDir(id string) string {
	return filepath.Join(s.blobsDir(), shardFor(id))
}

func (s *Store) blobPath(id string) string {
	return filepath.Join(s.bucketDir(id), id+".bin")
}

func (s *Store) markerPath(id string) string {
	return filepath.Join(s.bucketDir(id), id+".ok")
}

func (s *Store) indexPath(bucket string) string {
	return filepath.Join(s.blobsDir(), bucket, "index.json")
}

// readIndex loads a bucket index, returning an empty index for a missing
// or corrupt document (a corrupt index must not block the bucket).
func (s *Store) readIndex(bucket string) bucketIndex {
	data, err := os.ReadFile(s.indexPath(bucket))
	if err != nil {
		return bucketIndex{}
	}
	var idx bucketIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		s.logger.Warn("corrupt bucket index", "bucket", bucket, "error", err)
		return bucketIndex{}
	}
	return idx
}

func (s *Store) writeIndex(bucket string, idx bucketIndex) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encoding bucket index: %w", err)
	}
	return fsutil.AtomicWriteFile(s.indexPath(bucket), data, 0644)
}

// SaveFile implements storage.Provider. Commit order: bytes file written
// and synced first, then the zero-length marker, then the bucket index.
// A crash between steps leaves at worst an uncommitted bytes file that
// readers ignore.
func (s *Store) SaveFile(ctx context.Context, req *storage.SaveFileRequest) error {
	if req.BinaryObjectID == "" {
		return &model.ValidationError{Entity: "binary_object", Field: "id", Reason: "must not be empty"}
	}
	if err := os.MkdirAll(s.bucketDir(req.BinaryObjectID), 0755); err != nil {
		return fmt.Errorf("creating bucket: %w", err)
	}
	if err := fsutil.AtomicWriteFile(s.blobPath(req.BinaryObjectID), req.Blob, 0644); err != nil {
		return fmt.Errorf("writing blob %s: %w", req.BinaryObjectID, err)
	}
	if err := fsutil.AtomicWriteFile(s.markerPath(req.BinaryObjectID), nil, 0644); err != nil {
		return fmt.Errorf("writing commit marker %s: %w", req.BinaryObjectID, err)
	}

	created := req.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	bucket := shardFor(req.BinaryObjectID)
	idx := s.readIndex(bucket)
	idx[req.BinaryObjectID] = indexEntry{
		Name:      req.Name,
		MimeType:  req.MimeType,
		Size:      int64(len(req.Blob)),
		CreatedAt: created,
	}
	if err := s.writeIndex(bucket, idx); err != nil {
		return err
	}
	s.logger.Debug("blob stored",
		"binary_object_id", req.BinaryObjectID,
		"bucket", bucket,
		"size", len(req.Blob))
	return nil
}

// GetFile implements storage.Provider. A bytes file without its marker is
// not yet committed and reads as absent.
func (s *Store) GetFile(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, nil
	}
	if _, err := os.Stat(s.markerPath(id)); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checking commit marker %s: %w", id, err)
	}
	data, err := os.ReadFile(s.blobPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", id, err)
	}
	return data, nil
}

// HasAttachments implements storage.Provider: true when at least one
// committed object exists in any bucket.
func (s *Store) HasAttachments(ctx context.Context) (bool, error) {
	buckets, err := os.ReadDir(s.blobsDir())
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("listing buckets: %w", err)
	}
	for _, b := range buckets {
		if !b.IsDir() {
			continue
		}
		if len(s.readIndex(b.Name())) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ListBinaryObjects implements storage.Provider. Entries without a commit
// marker are skipped; corrupt bucket indexes read as empty.
func (s *Store) ListBinaryObjects(ctx context.Context) ([]*model.BinaryObject, error) {
	buckets, err := os.ReadDir(s.blobsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing buckets: %w", err)
	}
	var objects []*model.BinaryObject
	for _, b := range buckets {
		if !b.IsDir() {
			continue
		}
		idx := s.readIndex(b.Name())
		ids := make([]string, 0, len(idx))
		for id := range idx {
			if id == "" {
				s.logger.Warn("bucket index entry without id", "bucket", b.Name())
				continue
			}
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if _, err := os.Stat(s.markerPath(id)); err != nil {
				continue
			}
			e := idx[id]
			objects = append(objects, &model.BinaryObject{
				ID:        id,
				Name:      e.Name,
				MimeType:  e.MimeType,
				Size:      e.Size,
				CreatedAt: e.CreatedAt,
			})
		}
	}
	return objects, nil
}

// DeleteBinaryObject implements storage.Provider. The marker goes first so
// a crash mid-delete leaves an uncommitted blob, not a committed reference
// to missing bytes.
func (s *Store) DeleteBinaryObject(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := os.Remove(s.markerPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing commit marker %s: %w", id, err)
	}
	if err := os.Remove(s.blobPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob %s: %w", id, err)
	}
	bucket := shardFor(id)
	idx := s.readIndex(bucket)
	if _, ok := idx[id]; ok {
		delete(idx, id)
		if err := s.writeIndex(bucket, idx); err != nil {
			return err
		}
	}
	return nil
}
