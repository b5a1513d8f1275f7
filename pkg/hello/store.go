package hello

import (
	"io/fs"
	"os"

	"github.com/fluxorio/hellopool/pkg/core/failfast"
)

// FileStore reads the pages served to clients.
type FileStore interface {
	ReadFile(name string) ([]byte, error)
}

type fsStore struct {
	fsys fs.FS
}

// NewFSStore serves files from fsys.
func NewFSStore(fsys fs.FS) FileStore {
	failfast.NotNil(fsys, "fsys")
	return fsStore{fsys: fsys}
}

// NewDirStore serves files from the directory root. An empty root means the
// process working directory.
func NewDirStore(root string) FileStore {
	if root == "" {
		root = "."
	}
	return fsStore{fsys: os.DirFS(root)}
}

func (s fsStore) ReadFile(name string) ([]byte, error) {
	return fs.ReadFile(s.fsys, name)
}
