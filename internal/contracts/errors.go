package contracts

import (
	"errors"
	"strings"
)

const (
	ErrorCategoryAPI     = "api"
	ErrorCategoryStorage = "storage"
	ErrorCategoryDecode  = "decode"
	ErrorCategoryEncode  = "encode"
	ErrorCategorySigning = "signing"
)

// Category sentinels, matched through errors.Is on any CategorizedError.
var (
	ErrAPI     = errors.New("request failed")
	ErrStorage = errors.New("storage failure")
	ErrDecode  = errors.New("decode failure")
	ErrEncode  = errors.New("encode failure")
	ErrSigning = errors.New("signing failure")
)

type CategorizedError struct {
	Category string
	Err      error
}

func (e *CategorizedError) Error() string {
	return e.Category + ": " + e.Err.Error()
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

func (e *CategorizedError) Is(target error) bool {
	return target == categorySentinel(e.Category)
}

func normalizeErrorCategory(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case ErrorCategoryStorage:
		return ErrorCategoryStorage
	case ErrorCategoryDecode:
		return ErrorCategoryDecode
	case ErrorCategoryEncode:
		return ErrorCategoryEncode
	case ErrorCategorySigning:
		return ErrorCategorySigning
	default:
		return ErrorCategoryAPI
	}
}

func categorySentinel(category string) error {
	switch normalizeErrorCategory(category) {
	case ErrorCategoryStorage:
		return ErrStorage
	case ErrorCategoryDecode:
		return ErrDecode
	case ErrorCategoryEncode:
		return ErrEncode
	case ErrorCategorySigning:
		return ErrSigning
	default:
		return ErrAPI
	}
}

// WrapCategorizedError tags err with category. An error that already carries
// a category keeps it, so the innermost classification wins.
func WrapCategorizedError(category string, err error) error {
	if err == nil {
		return nil
	}
	var existing *CategorizedError
	if errors.As(err, &existing) {
		return err
	}
	return &CategorizedError{
		Category: normalizeErrorCategory(category),
		Err:      err,
	}
}

func Storage(err error) error { return WrapCategorizedError(ErrorCategoryStorage, err) }
func Decode(err error) error  { return WrapCategorizedError(ErrorCategoryDecode, err) }
func Encode(err error) error  { return WrapCategorizedError(ErrorCategoryEncode, err) }
func Signing(err error) error { return WrapCategorizedError(ErrorCategorySigning, err) }

func ErrorCategory(err error) string {
	var classified *CategorizedError
	if errors.As(err, &classified) {
		return normalizeErrorCategory(classified.Category)
	}
	return ErrorCategoryAPI
}
