package stores

import (
	"bufio"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	cst "burnafter.io/shout/constants"
	se "burnafter.io/shout/errors"
	md "burnafter.io/shout/models"
)

// FileStore stores the payload bytes of media shouts
// (note a payload is just a byte sequence)
type FileStore interface {
	// BlobKey returns the reference of a shout's payload in file storage. It is
	// deterministic on the shout hash and type.
	BlobKey(hash string, typ md.ShoutType) string
	// Save persists up to maxSize bytes from r under key. It rejects oversized
	// payloads with an Oversized error.
	Save(key string, r io.Reader, maxSize int64) *se.Err
	Get(key string) (io.ReadCloser, *se.Err)
	// Delete deletes shout payload from store. Delete must be idempotent
	Delete(key string) *se.Err
	Close() *se.Err
}

// LocalFileStore implements FileStore backed by local file system
type LocalFileStore struct {
	Root string
}

func NewLocalFileStore() *LocalFileStore {
	root := viper.GetString(cst.EnvLocalFileRoot)
	if root == "" {
		root = filepath.Join(os.TempDir(), "shout")
	}
	return &LocalFileStore{Root: root}
}

func (fs *LocalFileStore) BlobKey(hash string, typ md.ShoutType) string {
	return hash + typ.Ext()
}

func (fs *LocalFileStore) Save(key string, r io.Reader, maxSize int64) *se.Err {
	// 1. prepare file to host data
	errMsg := "error allocating file storage space"
	path := fs.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	f, err := os.Create(path)
	if err != nil {
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	defer f.Close()
	// 2. pipe data to file
	br := bufio.NewReader(http.MaxBytesReader(nil, io.NopCloser(r), maxSize))
	if _, err := br.WriteTo(f); err != nil {
		if strings.Contains(err.Error(), cst.ErrMsgRequestBodyTooLarge) {
			return se.NewOversized().WithCause(err)
		}
		return se.NewServiceFailure("error saving shout payload data").WithCause(err)
	}
	return nil
}

func (fs *LocalFileStore) Get(key string) (io.ReadCloser, *se.Err) {
	f, err := os.Open(fs.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, se.NewNotFound("shout payload not found").WithCause(err)
		}
		return nil, se.NewServiceFailure("error retrieving shout payload").WithCause(err)
	}
	return f, nil
}

func (fs *LocalFileStore) Delete(key string) *se.Err {
	if err := os.Remove(fs.path(key)); err != nil && !os.IsNotExist(err) {
		return se.NewServiceFailure("error removing shout payload").WithCause(err)
	}
	return nil
}

func (fs *LocalFileStore) Close() *se.Err {
	return nil
}

func (fs *LocalFileStore) path(key string) string {
	return filepath.Join(fs.Root, key)
}
