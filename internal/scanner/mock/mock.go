// Package mock is an in-memory scanner fake for tests and local development,
// adapted from the project's Python mock scanner fixture.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scanorch/scanorch/internal/scanner"
)

type scanRecord struct {
	name     string
	status   string
	progress int
	uuid     string
}

// Scanner is a scanner.Scanner backed entirely by in-memory state. Scans
// progress from pending -> running -> completed on a fixed timer so tests
// can exercise polling without a real Nessus instance.
type Scanner struct {
	scanDuration time.Duration
	fixture      []byte

	mu      sync.Mutex
	scans   map[int]*scanRecord
	counter int
}

func New(scanDuration time.Duration, fixture []byte) *Scanner {
	return &Scanner{
		scanDuration: scanDuration,
		fixture:      fixture,
		scans:        make(map[int]*scanRecord),
		counter:      1000,
	}
}

func (s *Scanner) CreateScan(ctx context.Context, req scanner.ScanRequest) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.counter
	s.counter++
	s.scans[id] = &scanRecord{
		name:     req.Name,
		status:   "pending",
		progress: 0,
		uuid:     fmt.Sprintf("mock-uuid-%d", id),
	}
	return id, nil
}

func (s *Scanner) LaunchScan(ctx context.Context, upstreamID int) (string, error) {
	s.mu.Lock()
	rec, ok := s.scans[upstreamID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("scan %d not found", upstreamID)
	}
	rec.status = "running"
	rec.progress = 10
	uuid := rec.uuid
	s.mu.Unlock()

	go s.simulate(upstreamID)
	return uuid, nil
}

func (s *Scanner) simulate(upstreamID int) {
	interval := s.scanDuration / 4
	for _, progress := range []int{25, 50, 75, 100} {
		time.Sleep(interval)
		s.mu.Lock()
		if rec, ok := s.scans[upstreamID]; ok {
			rec.progress = progress
		}
		s.mu.Unlock()
	}
	s.mu.Lock()
	if rec, ok := s.scans[upstreamID]; ok {
		rec.status = "completed"
	}
	s.mu.Unlock()
}

func (s *Scanner) GetStatus(ctx context.Context, upstreamID int) (scanner.StatusReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.scans[upstreamID]
	if !ok {
		return scanner.StatusReport{}, fmt.Errorf("scan %d not found", upstreamID)
	}
	return scanner.StatusReport{
		Status:       scanner.MapNativeStatus(rec.status),
		Progress:     rec.progress,
		NativeStatus: rec.status,
	}, nil
}

const fallbackFixture = `<?xml version="1.0" ?>
<NessusClientData_v2>
  <Report name="Mock Scan">
    <ReportHost name="192.168.1.1">
      <ReportItem pluginID="12345" pluginName="Mock Vulnerability" severity="2">
        <description>Mock vulnerability for testing</description>
        <cve>CVE-2023-12345</cve>
        <cvss_base_score>7.5</cvss_base_score>
        <exploit_available>true</exploit_available>
        <solution>Update to latest version</solution>
      </ReportItem>
    </ReportHost>
  </Report>
</NessusClientData_v2>`

func (s *Scanner) ExportResults(ctx context.Context, upstreamID int) ([]byte, error) {
	s.mu.Lock()
	_, ok := s.scans[upstreamID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("scan %d not found", upstreamID)
	}
	if len(s.fixture) > 0 {
		return s.fixture, nil
	}
	return []byte(fallbackFixture), nil
}

func (s *Scanner) StopScan(ctx context.Context, upstreamID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.scans[upstreamID]
	if !ok {
		return fmt.Errorf("scan %d not found", upstreamID)
	}
	rec.status = "stopped"
	return nil
}

func (s *Scanner) DeleteScan(ctx context.Context, upstreamID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scans[upstreamID]; !ok {
		return fmt.Errorf("scan %d not found", upstreamID)
	}
	delete(s.scans, upstreamID)
	return nil
}

func (s *Scanner) Close() error {
	return nil
}

var _ scanner.Scanner = (*Scanner)(nil)
