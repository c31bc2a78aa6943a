package contracts

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapCategorizedError_NewErrorUsesProvidedCategory(t *testing.T) {
	wrapped := WrapCategorizedError(ErrorCategorySigning, errors.New("boom"))
	var classified *CategorizedError
	if !errors.As(wrapped, &classified) {
		t.Fatalf("expected categorized error, got %T", wrapped)
	}
	if classified.Category != ErrorCategorySigning {
		t.Fatalf("expected category=%q, got %q", ErrorCategorySigning, classified.Category)
	}
}

func TestWrapCategorizedError_NormalizesUnknownCategoryToAPI(t *testing.T) {
	wrapped := WrapCategorizedError("unknown", errors.New("boom"))
	if got := ErrorCategory(wrapped); got != ErrorCategoryAPI {
		t.Fatalf("expected category=%q, got %q", ErrorCategoryAPI, got)
	}
}

func TestErrorCategory_DefaultsToAPIForRegularErrors(t *testing.T) {
	if got := ErrorCategory(errors.New("plain")); got != ErrorCategoryAPI {
		t.Fatalf("expected default category=%q, got %q", ErrorCategoryAPI, got)
	}
}

func TestCategorySentinelsMatchThroughWrapping(t *testing.T) {
	cause := errors.New("disk gone")
	err := fmt.Errorf("read identity: %w", Storage(cause))
	if !errors.Is(err, ErrStorage) {
		t.Fatal("expected ErrStorage to match")
	}
	if errors.Is(err, ErrDecode) {
		t.Fatal("storage error must not match ErrDecode")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected underlying cause to stay reachable")
	}
}

func TestWrapCategorizedError_InnermostCategoryWins(t *testing.T) {
	err := Storage(Decode(errors.New("bad json")))
	if got := ErrorCategory(err); got != ErrorCategoryDecode {
		t.Fatalf("expected category=%q, got %q", ErrorCategoryDecode, got)
	}
	if WrapCategorizedError(ErrorCategoryStorage, nil) != nil {
		t.Fatal("wrapping nil must return nil")
	}
}
