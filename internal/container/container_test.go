package container

import (
	"testing"

	"github.com/mtzanidakis/hive/internal/orcherr"
)

func TestNewRuntime_RejectsUnsupportedBackend(t *testing.T) {
	_, err := NewRuntime("remote-k8s")
	if err == nil {
		t.Fatal("expected error for unsupported backend")
	}
	if orcherr.KindOf(err) != orcherr.KindValidation {
		t.Fatalf("expected KindValidation, got %v", orcherr.KindOf(err))
	}
}
