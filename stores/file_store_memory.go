package stores

import (
	"bytes"
	"io"
	"sync"

	se "burnafter.io/shout/errors"
	md "burnafter.io/shout/models"
)

// MemFileStore is an in-process FileStore for development and tests
type MemFileStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemFileStore() *MemFileStore {
	return &MemFileStore{blobs: make(map[string][]byte)}
}

func (fs *MemFileStore) BlobKey(hash string, typ md.ShoutType) string {
	return hash + typ.Ext()
}

func (fs *MemFileStore) Save(key string, r io.Reader, maxSize int64) *se.Err {
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return se.NewServiceFailure("error reading shout payload data").WithCause(err)
	}
	if int64(len(data)) > maxSize {
		return se.NewOversized()
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.blobs[key] = data
	return nil
}

func (fs *MemFileStore) Get(key string) (io.ReadCloser, *se.Err) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data, ok := fs.blobs[key]
	if !ok {
		return nil, se.NewNotFound("shout payload not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (fs *MemFileStore) Delete(key string) *se.Err {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.blobs, key)
	return nil
}

func (fs *MemFileStore) Close() *se.Err {
	return nil
}

// Has tells whether a payload currently exists under key, for tests
func (fs *MemFileStore) Has(key string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.blobs[key]
	return ok
}
