package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FileStore keeps the whole catalog in one JSON file. Every operation
// reads the file, and mutations rewrite it completely, so all writers are
// serialized on mu. Readers share mu and never see a partial file because
// saves go through a temp file and a rename.
type FileStore struct {
	path   string
	assets *Assets
	log    *zap.Logger

	mu sync.RWMutex
}

var _ Catalog = (*FileStore)(nil)

// NewFileStore returns a store backed by path. assets may be nil, in which
// case image uploads are rejected.
func NewFileStore(path string, assets *Assets, log *zap.Logger) *FileStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStore{path: path, assets: assets, log: log}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.load(); err != nil {
		return err
	}
	if s.assets != nil {
		return s.assets.check()
	}
	return nil
}

// Load returns the full catalog. A missing file is an empty catalog.
func (s *FileStore) Load(ctx context.Context) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load()
}

// Save replaces the full catalog.
func (s *FileStore) Save(ctx context.Context, products []Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(products)
}

func (s *FileStore) List(ctx context.Context, f Filter) ([]Product, error) {
	products, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return f.Apply(products), nil
}

func (s *FileStore) Get(ctx context.Context, id string) (Product, error) {
	products, err := s.Load(ctx)
	if err != nil {
		return Product{}, err
	}
	i := indexByID(products, id)
	if i < 0 {
		return Product{}, &NotFoundError{ID: id}
	}
	return products[i], nil
}

func (s *FileStore) Add(ctx context.Context, form ProductForm) (Product, error) {
	p, err := form.product()
	if err != nil {
		return Product{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	products, err := s.load()
	if err != nil {
		return Product{}, err
	}
	if indexByName(products, p.Name) >= 0 {
		return Product{}, &DuplicateNameError{Name: p.Name}
	}

	if form.Image != nil {
		if p.Image, err = s.storeImage(*form.Image); err != nil {
			return Product{}, err
		}
	}
	p.ID = newID()

	if err := s.save(append(products, p)); err != nil {
		s.releaseImage(p.Image, p.ID)
		return Product{}, err
	}

	s.log.Debug("product added", zap.String("id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// Update rewrites name, units and price of an existing product and, when
// the form carries an image, swaps its image. Keeping the product's own
// name is allowed; taking another product's name is not.
func (s *FileStore) Update(ctx context.Context, id string, form ProductForm) (Product, error) {
	next, err := form.product()
	if err != nil {
		return Product{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	products, err := s.load()
	if err != nil {
		return Product{}, err
	}
	i := indexByID(products, id)
	if i < 0 {
		return Product{}, &NotFoundError{ID: id}
	}
	if j := indexByName(products, next.Name); j >= 0 && j != i {
		return Product{}, &DuplicateNameError{Name: next.Name}
	}

	cur := &products[i]
	var oldImage, newImage string
	if form.Image != nil {
		if newImage, err = s.storeImage(*form.Image); err != nil {
			return Product{}, err
		}
		oldImage = cur.Image
		cur.Image = newImage
	}
	cur.Name, cur.Units, cur.Price = next.Name, next.Units, next.Price

	if err := s.save(products); err != nil {
		s.releaseImage(newImage, id)
		return Product{}, err
	}
	s.releaseImage(oldImage, id)

	return *cur, nil
}

// Delete removes the product and its image. Unknown ids are not an error;
// the returned flag tells whether anything was removed.
func (s *FileStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products, err := s.load()
	if err != nil {
		return false, err
	}
	i := indexByID(products, id)
	if i < 0 {
		return false, nil
	}
	removed := products[i]

	if err := s.save(append(products[:i:i], products[i+1:]...)); err != nil {
		return false, err
	}
	s.releaseImage(removed.Image, id)
	return true, nil
}

// BulkImport appends the records whose name is not yet in the catalog or
// earlier in the same batch. The catalog is written once at the end.
func (s *FileStore) BulkImport(ctx context.Context, records []ImportRecord) (ImportReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products, err := s.load()
	if err != nil {
		return ImportReport{}, err
	}

	names := make(map[string]struct{}, len(products)+len(records))
	ids := make(map[string]struct{}, len(products)+len(records))
	for _, p := range products {
		names[nameKey(p.Name)] = struct{}{}
		ids[p.ID] = struct{}{}
	}

	var rep ImportReport
	for i, rec := range records {
		p, err := productFromRecord(rec)
		if err != nil {
			rep.Invalid++
			s.log.Info("import record skipped", zap.Int("index", i), zap.Error(err))
			continue
		}

		key := nameKey(p.Name)
		if _, dup := names[key]; dup {
			rep.Duplicates++
			continue
		}
		if _, used := ids[p.ID]; used || p.ID == "" {
			p.ID = newID()
		}

		products = append(products, p)
		names[key] = struct{}{}
		ids[p.ID] = struct{}{}
		rep.Added++
	}

	if rep.Added == 0 {
		return rep, nil
	}
	if err := s.save(products); err != nil {
		return ImportReport{}, err
	}
	return rep, nil
}

// ExportJSON writes the catalog in the same format as the backing file.
func (s *FileStore) ExportJSON(ctx context.Context, w io.Writer) error {
	products, err := s.Load(ctx)
	if err != nil {
		return err
	}
	return encodeCatalog(w, products)
}

func (s *FileStore) ExportCSV(ctx context.Context, w io.Writer) error {
	products, err := s.Load(ctx)
	if err != nil {
		return err
	}
	return encodeCSV(w, products)
}

func (s *FileStore) ExportXLSX(ctx context.Context, w io.Writer) error {
	products, err := s.Load(ctx)
	if err != nil {
		return err
	}
	return encodeXLSX(w, products)
}

func (s *FileStore) load() ([]Product, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Product{}, nil
	}
	if err != nil {
		return nil, &StorageCorruptError{Path: s.path, Err: err}
	}

	var products []Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, &StorageCorruptError{Path: s.path, Err: err}
	}
	if products == nil {
		products = []Product{}
	}
	return products, nil
}

func (s *FileStore) save(products []Product) error {
	var buf bytes.Buffer
	if err := encodeCatalog(&buf, products); err != nil {
		return &StorageWriteError{Path: s.path, Op: "encode", Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StorageWriteError{Path: s.path, Op: "mkdir", Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return &StorageWriteError{Path: s.path, Op: "create temp", Err: err}
	}
	tmpPath := tmp.Name()

	fail := func(op string, err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &StorageWriteError{Path: s.path, Op: op, Err: err}
	}

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		return fail("write", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail("chmod", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("close", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return &StorageWriteError{Path: s.path, Op: "rename", Err: err}
	}
	return nil
}

func (s *FileStore) storeImage(up ImageUpload) (string, error) {
	if s.assets == nil {
		return "", &ValidationError{Field: fieldImage, Value: up.Filename, Message: reasonUploadsDisabled}
	}
	return s.assets.Save(up)
}

// releaseImage removes an image that is no longer referenced. Failures
// are logged and never fail the calling operation.
func (s *FileStore) releaseImage(name, productID string) {
	if name == "" || s.assets == nil {
		return
	}
	if err := s.assets.Remove(name); err != nil {
		s.log.Warn("remove product image failed",
			zap.String("product_id", productID),
			zap.String("image", name),
			zap.Error(err),
		)
	}
}

func newID() string {
	return uuid.NewString()
}
