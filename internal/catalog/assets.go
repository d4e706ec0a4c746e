package catalog

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// Assets keeps uploaded product images as flat files in one directory.
// Stored names are generated; only the extension comes from the client.
type Assets struct {
	dir string
}

func NewAssets(dir string) (*Assets, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Assets{dir: dir}, nil
}

func (a *Assets) Dir() string { return a.dir }

func (a *Assets) Save(up ImageUpload) (string, error) {
	ext := strings.ToLower(filepath.Ext(clientBaseName(up.Filename)))
	if !imageExts[ext] {
		return "", &ValidationError{Field: fieldImage, Value: up.Filename, Message: reasonImageType}
	}

	name := strings.ReplaceAll(uuid.NewString(), "-", "") + ext
	path := filepath.Join(a.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", &StorageWriteError{Path: path, Op: "create image", Err: err}
	}
	if _, err := io.Copy(f, up.Content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", &StorageWriteError{Path: path, Op: "write image", Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", &StorageWriteError{Path: path, Op: "close image", Err: err}
	}
	return name, nil
}

// Remove deletes a stored image. A missing file is not an error.
func (a *Assets) Remove(name string) error {
	if !validAssetName(name) {
		return fmt.Errorf("refusing to remove asset %q", name)
	}
	err := os.Remove(filepath.Join(a.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (a *Assets) check() error {
	st, err := os.Stat(a.dir)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", a.dir)
	}
	return nil
}

// clientBaseName strips any directory part a browser may send, using both
// separator styles.
func clientBaseName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}

func validAssetName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

// ServableImageName reports whether name may be served from the upload
// dir: a plain file name that is not hidden.
func ServableImageName(name string) bool {
	return validAssetName(name) && !strings.HasPrefix(name, ".")
}
