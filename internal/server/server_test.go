package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EdwardJXLi/TinyGen/internal/config"
	"github.com/EdwardJXLi/TinyGen/internal/fetcher"
	"github.com/EdwardJXLi/TinyGen/internal/task"
)

// stubFetcher returns a fixed tree, or blocks until cancelled.
type stubFetcher struct {
	tree  *fetcher.FileTree
	err   error
	block bool
}

func (f *stubFetcher) Fetch(ctx context.Context, repoURL string) (*fetcher.FileTree, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.tree, nil
}

// stubGenerator returns a fixed diff or error.
type stubGenerator struct {
	diff string
	err  error
}

func (g *stubGenerator) Generate(ctx context.Context, tree *fetcher.FileTree, prompt string, progress func(string)) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.diff, nil
}

func newTestServer(t *testing.T, f *stubFetcher, g *stubGenerator, apiKey string) *httptest.Server {
	t.Helper()
	env := &config.Env{}
	env.APIKey = apiKey
	registry := task.NewRegistry(nil)
	service := task.NewService(registry, f, g)
	srv := httptest.NewServer(NewServer(env, service).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func defaultStubs() (*stubFetcher, *stubGenerator) {
	tree := fetcher.NewFileTree()
	tree.Files["main.go"] = "package main\n"
	return &stubFetcher{tree: tree}, &stubGenerator{diff: "--- a/main.go\n+++ b/main.go\n"}
}

func postGenerate(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := srv.Client().Post(srv.URL+"/generate", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func submitTask(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := postGenerate(t, srv, `{"repoUrl":"https://example.com/owner/repo","prompt":"add a flag"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		TaskID  string `json:"task_id"`
		TaskURL string `json:"task_url"`
	}
	decodeJSON(t, resp, &out)
	require.NotEmpty(t, out.TaskID)
	assert.Equal(t, srv.URL+"/task/"+out.TaskID, out.TaskURL)
	return out.TaskID
}

func waitStatus(t *testing.T, srv *httptest.Server, id, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := srv.Client().Get(srv.URL + "/task/" + id)
		require.NoError(t, err)
		var out struct {
			Status string `json:"status"`
		}
		decodeJSON(t, resp, &out)
		return out.Status == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRootBanner(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{}, &stubGenerator{}, "")

	resp, err := srv.Client().Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "TinyGen API", string(body))
}

func TestGenerateAndStatusFlow(t *testing.T) {
	f, g := defaultStubs()
	srv := newTestServer(t, f, g, "")

	id := submitTask(t, srv)
	waitStatus(t, srv, id, "COMPLETED")

	resp, err := srv.Client().Get(srv.URL + "/task/" + id)
	require.NoError(t, err)
	var status struct {
		TaskID      string   `json:"task_id"`
		RepoURL     string   `json:"repo_url"`
		Prompt      string   `json:"prompt"`
		Status      string   `json:"status"`
		ResultURL   string   `json:"result_url"`
		LogsURL     string   `json:"logs_url"`
		EndTime     *string  `json:"end_time"`
		ElapsedTime *float64 `json:"elapsed_time"`
	}
	decodeJSON(t, resp, &status)
	assert.Equal(t, id, status.TaskID)
	assert.Equal(t, "https://example.com/owner/repo", status.RepoURL)
	assert.Equal(t, "add a flag", status.Prompt)
	assert.Equal(t, "COMPLETED", status.Status)
	assert.Equal(t, srv.URL+"/task/"+id+"/result", status.ResultURL)
	assert.Equal(t, srv.URL+"/task/"+id+"/logs", status.LogsURL)
	assert.NotNil(t, status.EndTime)
	require.NotNil(t, status.ElapsedTime)
	assert.GreaterOrEqual(t, *status.ElapsedTime, 0.0)
}

func TestGenerateRejectsBadRequests(t *testing.T) {
	f, g := defaultStubs()
	srv := newTestServer(t, f, g, "")

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"repoUrl": `},
		{"empty prompt", `{"repoUrl":"https://example.com/owner/repo","prompt":""}`},
		{"empty repo url", `{"repoUrl":"","prompt":"do it"}`},
		{"bad repo url", `{"repoUrl":"not-a-url","prompt":"do it"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postGenerate(t, srv, tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var out struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			decodeJSON(t, resp, &out)
			assert.Equal(t, "invalid_argument", out.Code)
			assert.NotEmpty(t, out.Message)
		})
	}
}

func TestUnknownTaskReturns404(t *testing.T) {
	f, g := defaultStubs()
	srv := newTestServer(t, f, g, "")

	for _, path := range []string{
		"/task/no-such-task",
		"/task/no-such-task/result",
		"/task/no-such-task/logs",
	} {
		resp, err := srv.Client().Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		var out struct {
			Code string `json:"code"`
		}
		decodeJSON(t, resp, &out)
		assert.Equal(t, "not_found", out.Code, path)
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/task/no-such-task/cancel", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResultEndpoint(t *testing.T) {
	f, g := defaultStubs()
	srv := newTestServer(t, f, g, "")

	id := submitTask(t, srv)
	waitStatus(t, srv, id, "COMPLETED")

	resp, err := srv.Client().Get(srv.URL + "/task/" + id + "/result")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, g.diff, string(body))
}

func TestResultNotReadyReturns409(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{block: true}, &stubGenerator{}, "")

	id := submitTask(t, srv)

	resp, err := srv.Client().Get(srv.URL + "/task/" + id + "/result")
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var out struct {
		Code string `json:"code"`
	}
	decodeJSON(t, resp, &out)
	assert.Equal(t, "aborted", out.Code)

	// Unblock the runner.
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/task/"+id+"/cancel", nil)
	require.NoError(t, err)
	cresp, err := srv.Client().Do(req)
	require.NoError(t, err)
	cresp.Body.Close()
	waitStatus(t, srv, id, "CANCELLED")
}

func TestErroredTaskSurfacesInStatus(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{err: errors.New("repository not found")}, &stubGenerator{}, "")

	id := submitTask(t, srv)
	waitStatus(t, srv, id, "ERRORED")

	resp, err := srv.Client().Get(srv.URL + "/task/" + id + "/result")
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestCancelFlow(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{block: true}, &stubGenerator{}, "")

	id := submitTask(t, srv)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/task/"+id+"/cancel", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	decodeJSON(t, resp, &out)
	assert.Equal(t, id, out.TaskID)

	waitStatus(t, srv, id, "CANCELLED")

	// Cancelling a terminal task conflicts.
	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/task/"+id+"/cancel", nil)
	require.NoError(t, err)
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLogsEndpoint(t *testing.T) {
	f, g := defaultStubs()
	srv := newTestServer(t, f, g, "")

	id := submitTask(t, srv)
	waitStatus(t, srv, id, "COMPLETED")

	resp, err := srv.Client().Get(srv.URL + "/task/" + id + "/logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Task "+id+" started.")
	assert.Contains(t, string(body), "Task "+id+" finished!")
}

func TestLogsFollowStreamsUntilTerminal(t *testing.T) {
	f, g := defaultStubs()
	srv := newTestServer(t, f, g, "")

	id := submitTask(t, srv)

	resp, err := srv.Client().Get(srv.URL + "/task/" + id + "/logs?follow=true")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[len(lines)-1], "finished!")
}

func TestHealthEndpoint(t *testing.T) {
	f, g := defaultStubs()
	srv := newTestServer(t, f, g, "")

	var id string
	for i := 0; i < 2; i++ {
		id = submitTask(t, srv)
	}
	waitStatus(t, srv, id, "COMPLETED")

	var counts struct {
		Pending   int `json:"pending"`
		Finished  int `json:"finished"`
		Errored   int `json:"errored"`
		Cancelled int `json:"cancelled"`
		Other     int `json:"other"`
	}
	require.Eventually(t, func() bool {
		resp, err := srv.Client().Get(srv.URL + "/health")
		require.NoError(t, err)
		decodeJSON(t, resp, &counts)
		return counts.Finished == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, counts.Pending+counts.Finished+counts.Errored+counts.Cancelled+counts.Other)
}

func TestUnknownRouteReturnsJSONError(t *testing.T) {
	f, g := defaultStubs()
	srv := newTestServer(t, f, g, "")

	resp, err := srv.Client().Get(srv.URL + "/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var out struct {
		Code string `json:"code"`
	}
	decodeJSON(t, resp, &out)
	assert.Equal(t, "not_found", out.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	f, g := defaultStubs()
	srv := newTestServer(t, f, g, "secret")

	// Health and the banner stay open.
	for _, path := range []string{"/", "/health"} {
		resp, err := srv.Client().Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	// Everything else requires the key.
	resp := postGenerate(t, srv, `{"repoUrl":"https://example.com/owner/repo","prompt":"add a flag"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	send := func(header, value string) int {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/generate",
			bytes.NewReader([]byte(`{"repoUrl":"https://example.com/owner/repo","prompt":"add a flag"}`)))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(header, value)
		r, err := srv.Client().Do(req)
		require.NoError(t, err)
		r.Body.Close()
		return r.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, send("X-API-Key", "wrong"))
	assert.Equal(t, http.StatusOK, send("X-API-Key", "secret"))
	assert.Equal(t, http.StatusOK, send("Authorization", "Bearer secret"))
}
