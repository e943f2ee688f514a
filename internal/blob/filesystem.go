package blob

import (
	"fmt"
	"os"

	"cellxplore/internal/infra/blob/fs"
)

// NewFilesystem serves the data directory at root. An empty root means
// ./datasets. The directory must already exist: the service only reads it.
func NewFilesystem(root string) (Store, error) {
	if root == "" {
		root = "./datasets"
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("data directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data directory %s is not a directory", root)
	}
	return fs.New(root)
}
