package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("invalid product")
	ErrDuplicateName  = errors.New("product already exists")
	ErrNotFound       = errors.New("product not found")
	ErrStorageCorrupt = errors.New("catalog file corrupt")
	ErrStorageWrite   = errors.New("catalog write failed")
	ErrInvalidFilter  = errors.New("invalid filter")
	ErrImportFormat   = errors.New("invalid import file")
)

// Reasons carried in ValidationError.Message.
const (
	reasonRequired        = "required"
	reasonWholeNumber     = "must be a whole number"
	reasonNumber          = "must be a number"
	reasonNegative        = "must not be negative"
	reasonImageType       = "unsupported image type"
	reasonUploadsDisabled = "image uploads are disabled"
)

// ValidationError reports a missing or unparseable product field.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s %q: %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("product %q already exists", e.Name)
}

func (e *DuplicateNameError) Is(target error) bool { return target == ErrDuplicateName }

type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StorageCorruptError means the catalog file exists but does not decode
// into a product list.
type StorageCorruptError struct {
	Path string
	Err  error
}

func (e *StorageCorruptError) Error() string {
	return fmt.Sprintf("catalog file %s corrupt: %v", e.Path, e.Err)
}

func (e *StorageCorruptError) Is(target error) bool { return target == ErrStorageCorrupt }
func (e *StorageCorruptError) Unwrap() error        { return e.Err }

type StorageWriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("catalog %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageWriteError) Is(target error) bool { return target == ErrStorageWrite }
func (e *StorageWriteError) Unwrap() error        { return e.Err }

type InvalidFilterError struct {
	Param string
	Value string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid value %q for %s", e.Value, e.Param)
}

func (e *InvalidFilterError) Is(target error) bool { return target == ErrInvalidFilter }

type ImportFormatError struct {
	Err error
}

func (e *ImportFormatError) Error() string {
	return fmt.Sprintf("import: expected a JSON array of objects: %v", e.Err)
}

func (e *ImportFormatError) Is(target error) bool { return target == ErrImportFormat }
func (e *ImportFormatError) Unwrap() error        { return e.Err }
