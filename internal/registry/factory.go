package registry

import (
	"time"

	"github.com/scanorch/scanorch/internal/config"
	"github.com/scanorch/scanorch/internal/scanner"
	"github.com/scanorch/scanorch/internal/scanner/mock"
	"github.com/scanorch/scanorch/internal/scanner/nessus"
)

// mockScanDuration is how long a mock-backed scan takes to reach completed.
// Short enough to keep local/CI runs fast, long enough to exercise polling.
const mockScanDuration = 2 * time.Second

// DefaultFactory builds the real nessus.Scanner for "nessus" backed
// instances and the in-memory mock.Scanner for "mock" ones, per
// InstanceConfig.BackendOrDefault(). Config loading already rejects any
// other backend value, so this never falls through.
func DefaultFactory(cfg config.InstanceConfig) scanner.Scanner {
	switch cfg.BackendOrDefault() {
	case "mock":
		return mock.New(mockScanDuration, nil)
	default:
		return nessus.New(cfg.URL, cfg.Username, cfg.Password, cfg.VerifySSLOrDefault())
	}
}
