// Package filesystem provides an app.BlobStore backed by the local
// filesystem. Each blob is an immutable file named after its ref.
package filesystem

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
)

var _ app.BlobStore = (*BlobStore)(nil)

const (
	blobExt = ".blob"
	tmpExt  = ".tmp"
)

// BlobStore implements app.BlobStore using the local filesystem.
type BlobStore struct {
	root string
}

// New returns a filesystem-backed blob store rooted at dir. The directory
// must already exist with secure permissions (0700 recommended).
func New(root string) (*BlobStore, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(err, "stat blob root")
	}
	if !fi.IsDir() {
		return nil, errors.New("blob root is not a directory")
	}
	return &BlobStore{root: root}, nil
}

// path constructs the full path to the blob file for ref.
func (b *BlobStore) path(ref domain.BlobRef, ext string) string {
	return filepath.Join(b.root, ref.String()+ext)
}

// Put writes exactly size bytes from r to a temporary file, syncs it and
// renames it into place, so a blob is either complete or absent.
func (b *BlobStore) Put(ctx context.Context, ref domain.BlobRef, r io.Reader, size int64) error {
	if !ref.Valid() {
		return domain.ErrInvalidBlobRef
	}
	tmp := b.path(ref, tmpExt)
	// #nosec G304: path is a fixed root plus a validated hex ref.
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrap(err, "create blob")
	}
	n, err := io.CopyN(f, ctxReader{ctx: ctx, r: r}, size)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		if errors.Is(err, io.EOF) && n < size {
			return domain.ErrSizeMismatch
		}
		return errors.Wrap(err, "write blob")
	}
	if err := os.Rename(tmp, b.path(ref, blobExt)); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "commit blob")
	}
	return nil
}

// Open returns a reader over the blob or domain.ErrNotFound.
func (b *BlobStore) Open(_ context.Context, ref domain.BlobRef) (io.ReadCloser, error) {
	if !ref.Valid() {
		return nil, domain.ErrInvalidBlobRef
	}
	f, err := os.Open(b.path(ref, blobExt)) // #nosec G304 path constructed internally
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrap(err, "open blob")
	}
	return f, nil
}

// Delete removes the blob and any leftover temporary file. Missing files are
// not an error. Readers that already opened the blob keep reading it.
func (b *BlobStore) Delete(_ context.Context, ref domain.BlobRef) error {
	if !ref.Valid() {
		return domain.ErrInvalidBlobRef
	}
	for _, ext := range []string{blobExt, tmpExt} {
		if err := os.Remove(b.path(ref, ext)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrap(err, "delete blob")
		}
	}
	return nil
}

// List returns every blob (committed or temporary) present under the root.
// Files whose names are not valid refs are ignored.
func (b *BlobStore) List(_ context.Context) ([]app.BlobInfo, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, errors.Wrap(err, "list blobs")
	}
	var out []app.BlobInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext != blobExt && ext != tmpExt {
			continue
		}
		ref, err := domain.ParseBlobRef(strings.TrimSuffix(name, ext))
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		out = append(out, app.BlobInfo{Ref: ref, ModTime: info.ModTime()})
	}
	return out, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
