// Package fsbridge bridges the fs.Filesystem abstraction to the billy
// filesystem interface that go-git operates on, and builds the git object
// storage layered on top of it.
package fsbridge

import (
	"fmt"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/input-output-hk/catalyst-forge-libs/fs"
	fsb "github.com/input-output-hk/catalyst-forge-libs/fs/billy"
)

// minCacheSize is used when a caller supplies a non-positive cache size.
const minCacheSize = 100

// ToBillyFilesystem unwraps an fs.Filesystem into the billy.Filesystem it
// carries. Only filesystems constructed by the fs/billy package can be
// unwrapped; anything else is an error.
//
//nolint:ireturn // billy.Filesystem is the contract go-git consumes
func ToBillyFilesystem(fsys fs.Filesystem) (billy.Filesystem, error) {
	wrapper, ok := fsys.(*fsb.FS)
	if !ok {
		return nil, fmt.Errorf("filesystem must be a billy.FS from fs/billy package, got %T", fsys)
	}
	return wrapper.Raw(), nil
}

// NewStorage builds git object storage over billyFS with an LRU object
// cache of cacheSize entries.
func NewStorage(billyFS billy.Filesystem, cacheSize int) *filesystem.Storage {
	if cacheSize <= 0 {
		cacheSize = minCacheSize
	}
	return filesystem.NewStorage(billyFS, cache.NewObjectLRU(cache.FileSize(cacheSize)))
}
