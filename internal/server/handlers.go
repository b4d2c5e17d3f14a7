package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/EdwardJXLi/TinyGen/pkg/cerr"
)

type generateRequest struct {
	RepoURL string `json:"repoUrl"`
	Prompt  string `json:"prompt"`
}

type generateResponse struct {
	TaskID  string `json:"task_id"`
	TaskURL string `json:"task_url"`
}

type statusResponse struct {
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

type cancelResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("TinyGen API"))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "malformed request body", err)
		return
	}
	id, err := s.service.Submit(req.RepoURL, req.Prompt)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, generateResponse{
		TaskID:  id,
		TaskURL: baseURL(r) + "/task/" + id,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap, err := s.service.Status(chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	taskURL := baseURL(r) + "/task/" + snap.ID
	cerr.SetJSONResponse(ctx, statusResponse{
		TaskID:      snap.ID,
		RepoURL:     snap.RepoURL,
		Prompt:      snap.Prompt,
		Status:      string(snap.Status),
		ResultURL:   taskURL + "/result",
		LogsURL:     taskURL + "/logs",
		StartTime:   snap.CreatedAt,
		EndTime:     snap.EndedAt,
		ElapsedTime: snap.ElapsedSeconds(time.Now()),
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Result(chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(result))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if r.URL.Query().Get("follow") != "true" {
		lines, err := s.service.Logs(id)
		if err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprint(w, strings.Join(lines, "\n"))
		return
	}

	stream, err := s.service.FollowLogs(ctx, id)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for line := range stream {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap, err := s.service.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, cancelResponse{
		TaskID: snap.ID,
		Status: string(snap.Status),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cerr.SetJSONResponse(r.Context(), s.service.Health())
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
