package persist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/nerfedge/scenecache/pkg/errors"
)

// DiskStoreConfig configures an on-disk payload store.
type DiskStoreConfig struct {
	Directory   string `yaml:"directory"`
	Compression bool   `yaml:"compression"`
	IndexFile   string `yaml:"index_file"`
}

// diskItem is one index record. The checksum covers the on-disk bytes,
// after compression.
type diskItem struct {
	Key        string    `cbor:"key"`
	FileName   string    `cbor:"file_name"`
	Size       int64     `cbor:"size"`
	StoredSize int64     `cbor:"stored_size"`
	StoredAt   time.Time `cbor:"stored_at"`
	Compressed bool      `cbor:"compressed"`
	Checksum   string    `cbor:"checksum"`
}

// DiskStore persists payloads as individual files under a directory, with
// a CBOR index mapping keys to files. Payloads are optionally
// zstd-compressed and checksummed; a corrupt file is dropped from the
// index and reported as a read error.
type DiskStore struct {
	mu     sync.RWMutex
	cfg    DiskStoreConfig
	index  map[string]*diskItem
	logger *zap.Logger

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewDiskStore opens (or creates) a disk store rooted at cfg.Directory and
// loads any index left by a previous run.
func NewDiskStore(cfg DiskStoreConfig, logger *zap.Logger) (*DiskStore, error) {
	if cfg.Directory == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "disk store requires a directory").
			WithComponent("persist")
	}
	if cfg.IndexFile == "" {
		cfg.IndexFile = "scenecache-index.cbor"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.Directory, 0o750); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreWrite, "creating store directory", err).
			WithComponent("persist").WithContext("directory", cfg.Directory)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreWrite, "initializing compressor", err).
			WithComponent("persist")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreRead, "initializing decompressor", err).
			WithComponent("persist")
	}

	s := &DiskStore{
		cfg:    cfg,
		index:  make(map[string]*diskItem),
		logger: logger,
		enc:    enc,
		dec:    dec,
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// Put writes the payload to disk and records it in the index.
func (s *DiskStore) Put(_ context.Context, key string, data []byte) error {
	stored := data
	compressed := false
	if s.cfg.Compression {
		stored = s.enc.EncodeAll(data, nil)
		compressed = true
	}
	sum := sha256.Sum256(stored)

	item := &diskItem{
		Key:        key,
		FileName:   fileNameFor(key, compressed),
		Size:       int64(len(data)),
		StoredSize: int64(len(stored)),
		StoredAt:   time.Now(),
		Compressed: compressed,
		Checksum:   hex.EncodeToString(sum[:]),
	}

	path := filepath.Join(s.cfg.Directory, item.FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, stored, 0o640); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite, "writing payload file", err).
			WithComponent("persist").WithContext("key", key)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(errors.ErrCodeStoreWrite, "committing payload file", err).
			WithComponent("persist").WithContext("key", key)
	}

	s.mu.Lock()
	old := s.index[key]
	s.index[key] = item
	err := s.saveIndexLocked()
	s.mu.Unlock()

	if old != nil && old.FileName != item.FileName {
		_ = os.Remove(filepath.Join(s.cfg.Directory, old.FileName))
	}
	return err
}

// Get reads a payload back, verifying its checksum and decompressing if
// needed. Unknown keys return ErrStoreNotFound.
func (s *DiskStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	item, ok := s.index[key]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.ErrStoreNotFound
	}

	path := filepath.Join(s.cfg.Directory, item.FileName)
	stored, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.dropEntry(key)
			return nil, errors.ErrStoreNotFound
		}
		return nil, errors.Wrap(errors.ErrCodeStoreRead, "reading payload file", err).
			WithComponent("persist").WithContext("key", key)
	}

	sum := sha256.Sum256(stored)
	if hex.EncodeToString(sum[:]) != item.Checksum {
		s.dropEntry(key)
		_ = os.Remove(path)
		return nil, errors.Newf(errors.ErrCodeStoreCorrupt, "checksum mismatch for %q", key).
			WithComponent("persist").WithContext("file", item.FileName)
	}

	if !item.Compressed {
		return stored, nil
	}
	data, err := s.dec.DecodeAll(stored, nil)
	if err != nil {
		s.dropEntry(key)
		_ = os.Remove(path)
		return nil, errors.Wrap(errors.ErrCodeStoreCorrupt, "decompressing payload", err).
			WithComponent("persist").WithContext("key", key)
	}
	return data, nil
}

// Delete removes the payload and its index entry. Deleting an unknown key
// is not an error.
func (s *DiskStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	item, ok := s.index[key]
	if ok {
		delete(s.index, key)
	}
	var err error
	if ok {
		err = s.saveIndexLocked()
	}
	s.mu.Unlock()

	if ok {
		_ = os.Remove(filepath.Join(s.cfg.Directory, item.FileName))
	}
	return err
}

// Len returns the number of indexed payloads.
func (s *DiskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Close flushes the index and releases the compressor.
func (s *DiskStore) Close() error {
	s.mu.Lock()
	err := s.saveIndexLocked()
	s.mu.Unlock()

	s.dec.Close()
	if cerr := s.enc.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *DiskStore) dropEntry(key string) {
	s.mu.Lock()
	if _, ok := s.index[key]; ok {
		delete(s.index, key)
		if err := s.saveIndexLocked(); err != nil {
			s.logger.Warn("index save failed", zap.Error(err))
		}
	}
	s.mu.Unlock()
}

func (s *DiskStore) indexPath() string {
	return filepath.Join(s.cfg.Directory, s.cfg.IndexFile)
}

func (s *DiskStore) loadIndex() error {
	raw, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(errors.ErrCodeStoreRead, "reading store index", err).
			WithComponent("persist")
	}
	var items []*diskItem
	if err := cbor.Unmarshal(raw, &items); err != nil {
		// A broken index means starting over, not failing to open.
		s.logger.Warn("discarding unreadable store index", zap.Error(err))
		return nil
	}
	for _, item := range items {
		s.index[item.Key] = item
	}
	return nil
}

func (s *DiskStore) saveIndexLocked() error {
	items := make([]*diskItem, 0, len(s.index))
	for _, item := range s.index {
		items = append(items, item)
	}
	raw, err := cbor.Marshal(items)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite, "encoding store index", err).
			WithComponent("persist")
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o640); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWrite, "writing store index", err).
			WithComponent("persist")
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(errors.ErrCodeStoreWrite, "committing store index", err).
			WithComponent("persist")
	}
	return nil
}

// fileNameFor derives a stable file name from the key. Keys may contain
// path separators, so the name is a digest rather than the key itself.
func fileNameFor(key string, compressed bool) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	if compressed {
		return name + ".zst"
	}
	return name + ".bin"
}
