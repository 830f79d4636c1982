package errkind

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainErrorUnwrapReachesUnderlyingError(t *testing.T) {
	underlying := errors.New("connection refused")
	de := Wrap(TransientIO, "storage.LatestCandles", underlying)

	if !errors.Is(de, underlying) {
		t.Error("errors.Is should see through DomainError to the wrapped error")
	}
}

func TestDomainErrorMessageIncludesOpAndKind(t *testing.T) {
	de := Wrap(InvariantViolation, "episode.ProcessFill", errors.New("negative size"))
	got := de.Error()
	want := "episode.ProcessFill: invariant_violation: negative size"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestAsFindsDomainErrorThroughFmtWrap(t *testing.T) {
	de := Wrap(StaleData, "atr.fetch", errors.New("no candles"))
	wrapped := fmt.Errorf("context: %w", de)

	found, ok := As(wrapped)
	if !ok {
		t.Fatal("expected As to find the wrapped DomainError")
	}
	if found.Kind != StaleData {
		t.Errorf("kind = %v, want %v", found.Kind, StaleData)
	}
}

func TestKindOfPlainErrorIsEmpty(t *testing.T) {
	if k := KindOf(errors.New("plain")); k != "" {
		t.Errorf("KindOf(plain error) = %q, want empty", k)
	}
}

func TestKindOfNilErrorIsEmpty(t *testing.T) {
	if k := KindOf(nil); k != "" {
		t.Errorf("KindOf(nil) = %q, want empty", k)
	}
}
