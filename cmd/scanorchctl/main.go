// Command scanorchctl is a thin operator CLI for the scan-orchestration
// service's admin surface: inspecting pool/scanner status, listing and
// retrying dead-lettered tasks, and resetting a tripped circuit breaker. It
// talks to a running scanorchd over the same HTTP API external clients use.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	addr := os.Getenv("SCANORCHCTL_ADDR")
	if addr == "" {
		addr = "http://localhost:8090"
	}
	token := os.Getenv("SCANORCHCTL_TOKEN")

	client := &apiClient{baseURL: addr, token: token, http: &http.Client{Timeout: 10 * time.Second}}

	var err error
	switch os.Args[1] {
	case "pool-status":
		err = runPoolStatus(client, os.Args[2:])
	case "list-dlq":
		err = runListDLQ(client, os.Args[2:])
	case "retry-dlq":
		err = runRetryDLQ(client, os.Args[2:])
	case "reset-breaker":
		err = runResetBreaker(client, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "scanorchctl: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`scanorchctl - admin CLI for scanorchd

Usage:
  scanorchctl <command> [options]

Commands:
  pool-status -pool NAME             Show pool status and breaker states
  list-dlq -pool NAME                List dead-lettered tasks for a pool
  retry-dlq -pool NAME -task ID      Requeue a dead-lettered task
  reset-breaker -instance KEY        Reset a tripped circuit breaker

Environment:
  SCANORCHCTL_ADDR    Base URL of the API server (default http://localhost:8090)
  SCANORCHCTL_TOKEN   Bearer token, if the server requires auth`)
}

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *apiClient) do(method, path string) ([]byte, error) {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, body)
	}
	return body, nil
}

func printPretty(body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		fmt.Println(string(body))
		return nil
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

func runPoolStatus(c *apiClient, args []string) error {
	fs := flag.NewFlagSet("pool-status", flag.ExitOnError)
	pool := fs.String("pool", "", "pool name (required)")
	fs.Parse(args)
	if *pool == "" {
		return fmt.Errorf("-pool is required")
	}
	body, err := c.do(http.MethodGet, "/v1/pools/"+*pool+"/status")
	if err != nil {
		return err
	}
	return printPretty(body)
}

func runListDLQ(c *apiClient, args []string) error {
	fs := flag.NewFlagSet("list-dlq", flag.ExitOnError)
	pool := fs.String("pool", "", "pool name (required)")
	fs.Parse(args)
	if *pool == "" {
		return fmt.Errorf("-pool is required")
	}
	body, err := c.do(http.MethodGet, "/v1/pools/"+*pool+"/dlq")
	if err != nil {
		return err
	}
	return printPretty(body)
}

func runRetryDLQ(c *apiClient, args []string) error {
	fs := flag.NewFlagSet("retry-dlq", flag.ExitOnError)
	pool := fs.String("pool", "", "pool name (required)")
	taskID := fs.String("task", "", "task id (required)")
	fs.Parse(args)
	if *pool == "" || *taskID == "" {
		return fmt.Errorf("-pool and -task are required")
	}
	body, err := c.do(http.MethodPost, "/v1/pools/"+*pool+"/dlq/"+*taskID+"/retry")
	if err != nil {
		return err
	}
	return printPretty(body)
}

func runResetBreaker(c *apiClient, args []string) error {
	fs := flag.NewFlagSet("reset-breaker", flag.ExitOnError)
	instance := fs.String("instance", "", "pool-qualified instance key, e.g. default:scanner-1 (required)")
	fs.Parse(args)
	if *instance == "" {
		return fmt.Errorf("-instance is required")
	}
	body, err := c.do(http.MethodPost, "/v1/breakers/"+*instance+"/reset")
	if err != nil {
		return err
	}
	return printPretty(body)
}
