//go:build e2e

// Package e2e_test exercises a running server over HTTP. Point E2E_BASE_URL
// at it; when operator auth is enabled set E2E_OPERATOR_USER and
// E2E_OPERATOR_PASSWORD.
package e2e_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// getenv returns the value of the environment variable k or def if empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

var baseURL = strings.TrimRight(getenv("E2E_BASE_URL", "http://localhost:8080"), "/")

// waitForAppReady polls /readyz until it answers 200 or the timeout elapses.
func waitForAppReady(t *testing.T, client *http.Client, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/readyz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Skipf("app not ready at %s after %s", baseURL, timeout)
}

func call(t *testing.T, client *http.Client, method, path, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, baseURL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if u := os.Getenv("E2E_OPERATOR_USER"); u != "" {
		req.SetBasicAuth(u, os.Getenv("E2E_OPERATOR_PASSWORD"))
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

// uniqueOrder returns a work order and a planned start that do not collide
// with earlier runs against the same database.
func uniqueOrder(prefix string, offset time.Duration) (string, string) {
	now := time.Now().UTC()
	wo := fmt.Sprintf("%s-%d", prefix, now.UnixNano())
	start := now.Add(24*time.Hour + offset).Truncate(time.Millisecond).Format(time.RFC3339Nano)
	return wo, start
}

// seededIDs maps "TYPE/CODE" to the lookup id the server assigned at seed time.
func seededIDs(t *testing.T, client *http.Client) map[string]int64 {
	t.Helper()
	code, body := call(t, client, http.MethodGet, "/v1/lookups", "")
	require.Equal(t, http.StatusOK, code, string(body))
	rows := decode[[]struct {
		ID         int64  `json:"id"`
		LookupType string `json:"lookup_type"`
		Code       string `json:"code"`
	}](t, body)
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.LookupType+"/"+r.Code] = r.ID
	}
	return out
}

func jobJSON(ids map[string]int64, workOrder, start string) string {
	return fmt.Sprintf(`{"work_order":%q,"sales_order":"SO-E2E","quantity_unit":%d,"work_center":%d,"planned_start_time":%q,"job_priority":%d}`,
		workOrder, ids["QUANTITY_UNIT/BK"], ids["WORK_CENTER/Jasuindo.OffsetPrinter.Taiyo1"], start, ids["JOB_PRIORITY/HIGH"])
}
