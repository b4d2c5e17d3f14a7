package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// client is a thin HTTP client for the TinyGen API.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient(baseURL, apiKey string) *client {
	return &client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		// No overall timeout: logs --follow keeps the connection open.
		http: &http.Client{},
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (c *client) do(method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		var apiErr apiError
		if jsonErr := json.Unmarshal(data, &apiErr); jsonErr == nil && apiErr.Code != "" {
			return nil, &apiErr
		}
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp, nil
}

func (c *client) doJSON(method, path string, body, out any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

type generateResult struct {
	TaskID  string `json:"task_id"`
	TaskURL string `json:"task_url"`
}

func (c *client) generate(repoURL, prompt string) (*generateResult, error) {
	var out generateResult
	err := c.doJSON(http.MethodPost, "/generate", map[string]string{
		"repoUrl": repoURL,
		"prompt":  prompt,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type taskStatus struct {
	TaskID      string     `json:"task_id"`
	RepoURL     string     `json:"repo_url"`
	Prompt      string     `json:"prompt"`
	Status      string     `json:"status"`
	ResultURL   string     `json:"result_url"`
	LogsURL     string     `json:"logs_url"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	ElapsedTime float64    `json:"elapsed_time"`
}

func (c *client) status(id string) (*taskStatus, error) {
	var out taskStatus
	if err := c.doJSON(http.MethodGet, "/task/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) result(id string) (string, error) {
	resp, err := c.do(http.MethodGet, "/task/"+id+"/result", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// logs prints each log line through emit as it arrives. With follow set it
// blocks until the task finishes.
func (c *client) logs(id string, follow bool, emit func(string)) error {
	path := "/task/" + id + "/logs"
	if follow {
		path += "?follow=true"
	}
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		emit(scanner.Text())
	}
	return scanner.Err()
}

type cancelResult struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (c *client) cancel(id string) (*cancelResult, error) {
	var out cancelResult
	if err := c.doJSON(http.MethodDelete, "/task/"+id+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type healthCounts struct {
	Pending   int `json:"pending"`
	Finished  int `json:"finished"`
	Errored   int `json:"errored"`
	Cancelled int `json:"cancelled"`
	Other     int `json:"other"`
}

func (c *client) health() (*healthCounts, error) {
	var out healthCounts
	if err := c.doJSON(http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
