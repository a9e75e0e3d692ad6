package registry

import (
	"testing"

	"github.com/scanorch/scanorch/internal/config"
	"github.com/scanorch/scanorch/internal/scanner/mock"
	"github.com/scanorch/scanorch/internal/scanner/nessus"
)

func TestDefaultFactoryDispatchesOnBackend(t *testing.T) {
	s := DefaultFactory(config.InstanceConfig{Backend: "mock"})
	if _, ok := s.(*mock.Scanner); !ok {
		t.Fatalf("expected *mock.Scanner for backend %q, got %T", "mock", s)
	}

	s = DefaultFactory(config.InstanceConfig{Backend: "nessus", URL: "https://nessus.example:8834"})
	if _, ok := s.(*nessus.Scanner); !ok {
		t.Fatalf("expected *nessus.Scanner for backend %q, got %T", "nessus", s)
	}

	s = DefaultFactory(config.InstanceConfig{URL: "https://nessus.example:8834"})
	if _, ok := s.(*nessus.Scanner); !ok {
		t.Fatalf("expected *nessus.Scanner for empty backend (default), got %T", s)
	}
}
