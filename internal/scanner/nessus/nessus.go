// Package nessus is the authoritative upstream backend: a thin HTTP client
// against a live Nessus instance's REST API, implementing scanner.Scanner.
package nessus

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/scanorch/scanorch/internal/scanner"
)

// advancedScanTemplate is the Nessus template UUID used for every scan this
// backend creates (Phase 1 scope per the design this was adapted from: no
// per-scan-type template selection yet).
const advancedScanTemplate = "ad629e16-03b6-8c1d-cef6-ef8c9dd3c658d24bd260ef5f9e66"

const exportPollInterval = 2 * time.Second
const exportPollMaxAttempts = 150 // 5 minutes at 2s/poll

// Scanner is a scanner.Scanner backed by a live Nessus instance's REST API.
type Scanner struct {
	baseURL  string
	username string
	password string

	httpClient *http.Client

	mu           sync.Mutex
	sessionToken string
}

func New(baseURL, username, password string, verifySSL bool) *Scanner {
	transport := &http.Transport{}
	if !verifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Scanner{
		baseURL:  trimTrailingSlash(baseURL),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func (s *Scanner) authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionToken != "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"username": s.username,
		"password": s.password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("authenticate with nessus: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("authenticate", resp)
	}

	var decoded struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode session response: %w", err)
	}
	s.sessionToken = decoded.Token
	return nil
}

func (s *Scanner) headers() (http.Header, error) {
	s.mu.Lock()
	token := s.sessionToken
	s.mu.Unlock()
	if token == "" {
		return nil, fmt.Errorf("not authenticated")
	}
	h := http.Header{}
	h.Set("X-Cookie", "token="+token)
	h.Set("Content-Type", "application/json")
	return h, nil
}

func (s *Scanner) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if err := s.authenticate(ctx); err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	headers, err := s.headers()
	if err != nil {
		return nil, err
	}
	req.Header = headers
	return s.httpClient.Do(req)
}

func statusError(op string, resp *http.Response) error {
	return fmt.Errorf("%s: unexpected status %s", op, resp.Status)
}

func (s *Scanner) CreateScan(ctx context.Context, req scanner.ScanRequest) (int, error) {
	settings := map[string]any{
		"name":         req.Name,
		"text_targets": req.Targets,
		"description":  orDefault(req.Description, req.Name),
		"enabled":      true,
		"folder_id":    3,
		"scanner_id":   1,
	}
	if req.Credentials != nil {
		settings["credentials"] = buildCredentials(req.Credentials)
	}

	body, err := json.Marshal(map[string]any{
		"uuid":     advancedScanTemplate,
		"settings": settings,
	})
	if err != nil {
		return 0, err
	}

	resp, err := s.do(ctx, http.MethodPost, "/scans", body)
	if err != nil {
		return 0, fmt.Errorf("create scan: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, statusError("create scan", resp)
	}

	var decoded struct {
		Scan struct {
			ID int `json:"id"`
		} `json:"scan"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("decode create scan response: %w", err)
	}
	return decoded.Scan.ID, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// buildCredentials maps a validated credential descriptor onto Nessus's SSH
// credential structure. Escalation beyond "Nothing" is passed through
// verbatim; Nessus itself enforces the method's validity against the
// target's configuration.
func buildCredentials(creds *scanner.CredentialDescriptor) map[string]any {
	elevate := creds.EscalationMethod
	if elevate == "" {
		elevate = "Nothing"
	}
	return map[string]any{
		"add": map[string]any{
			"Host": map[string]any{
				"SSH": []map[string]any{
					{
						"auth_method":             "password",
						"username":                creds.Username,
						"password":                creds.Password,
						"elevate_privileges_with": elevate,
					},
				},
			},
		},
	}
}

func (s *Scanner) LaunchScan(ctx context.Context, upstreamID int) (string, error) {
	resp, err := s.do(ctx, http.MethodPost, fmt.Sprintf("/scans/%d/launch", upstreamID), nil)
	if err != nil {
		return "", fmt.Errorf("launch scan: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusError("launch scan", resp)
	}
	var decoded struct {
		ScanUUID string `json:"scan_uuid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode launch response: %w", err)
	}
	return decoded.ScanUUID, nil
}

func (s *Scanner) GetStatus(ctx context.Context, upstreamID int) (scanner.StatusReport, error) {
	resp, err := s.do(ctx, http.MethodGet, fmt.Sprintf("/scans/%d", upstreamID), nil)
	if err != nil {
		return scanner.StatusReport{}, fmt.Errorf("get status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return scanner.StatusReport{}, statusError("get status", resp)
	}
	var decoded struct {
		Info struct {
			Status   string `json:"status"`
			Progress int    `json:"progress"`
		} `json:"info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return scanner.StatusReport{}, fmt.Errorf("decode status response: %w", err)
	}
	return scanner.StatusReport{
		Status:       scanner.MapNativeStatus(decoded.Info.Status),
		Progress:     decoded.Info.Progress,
		NativeStatus: decoded.Info.Status,
	}, nil
}

func (s *Scanner) ExportResults(ctx context.Context, upstreamID int) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"format": "nessus"})
	if err != nil {
		return nil, err
	}
	resp, err := s.do(ctx, http.MethodPost, fmt.Sprintf("/scans/%d/export", upstreamID), body)
	if err != nil {
		return nil, fmt.Errorf("request export: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("request export", resp)
	}
	var exportResp struct {
		File int `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&exportResp); err != nil {
		return nil, fmt.Errorf("decode export response: %w", err)
	}

	statusPath := fmt.Sprintf("/scans/%d/export/%d/status", upstreamID, exportResp.File)
	ready := false
	for attempt := 0; attempt < exportPollMaxAttempts; attempt++ {
		statusResp, err := s.do(ctx, http.MethodGet, statusPath, nil)
		if err != nil {
			return nil, fmt.Errorf("poll export status: %w", err)
		}
		var decoded struct {
			Status string `json:"status"`
		}
		decodeErr := json.NewDecoder(statusResp.Body).Decode(&decoded)
		statusResp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("decode export status: %w", decodeErr)
		}
		if decoded.Status == "ready" {
			ready = true
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(exportPollInterval):
		}
	}
	if !ready {
		return nil, fmt.Errorf("export did not complete within %s", exportPollInterval*exportPollMaxAttempts)
	}

	downloadResp, err := s.do(ctx, http.MethodGet, fmt.Sprintf("/scans/%d/export/%d/download", upstreamID, exportResp.File), nil)
	if err != nil {
		return nil, fmt.Errorf("download export: %w", err)
	}
	defer downloadResp.Body.Close()
	if downloadResp.StatusCode != http.StatusOK {
		return nil, statusError("download export", downloadResp)
	}
	return io.ReadAll(downloadResp.Body)
}

func (s *Scanner) StopScan(ctx context.Context, upstreamID int) error {
	resp, err := s.do(ctx, http.MethodPost, fmt.Sprintf("/scans/%d/stop", upstreamID), nil)
	if err != nil {
		return fmt.Errorf("stop scan: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("stop scan", resp)
	}
	return nil
}

func (s *Scanner) DeleteScan(ctx context.Context, upstreamID int) error {
	resp, err := s.do(ctx, http.MethodDelete, fmt.Sprintf("/scans/%d", upstreamID), nil)
	if err != nil {
		return fmt.Errorf("delete scan: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("delete scan", resp)
	}
	return nil
}

func (s *Scanner) Close() error {
	s.mu.Lock()
	s.sessionToken = ""
	s.mu.Unlock()
	return nil
}

var _ scanner.Scanner = (*Scanner)(nil)
