// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package rest is a thin, optional HTTP front-end over the pipeline
// orchestrator. It decodes a pipelinecfg.Config POST body, runs it
// through a caller-supplied ReaderOpener, and streams stage progress
// back as newline-delimited JSON while the job runs -- the shell the
// core explicitly leaves out of scope, kept here because the
// orchestrator's config/progress boundaries already support it.
package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/luckystack/internal/compute"
	"github.com/mlnoga/luckystack/internal/compute/cpubackend"
	"github.com/mlnoga/luckystack/internal/compute/gpubackend"
	"github.com/mlnoga/luckystack/internal/pipeline"
	"github.com/mlnoga/luckystack/internal/pipelinecfg"
	"github.com/mlnoga/luckystack/internal/progress"
	"github.com/mlnoga/luckystack/internal/source"
)

// MakeSandbox is implemented per-platform in sandbox_unix.go/sandbox_windows.go.

// ReaderOpener opens a source.FrameReader for a job's cfg.Input. The core
// pipeline has no opinion on capture container formats (§1 Non-goals), so
// the CLI wires in whichever concrete opener it supports at startup.
type ReaderOpener func(input string) (source.FrameReader, error)

// Server holds the dependency postJob needs to turn a config's Input
// field into a live FrameReader.
type Server struct {
	Open ReaderOpener
}

// Serve registers the job-submission API and static file routes, and
// blocks serving HTTP on addr (":8080" if addr is empty).
func (s *Server) Serve(addr string) error {
	if addr == "" {
		addr = ":8080"
	}
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/job", s.postJob)
			v1.StaticFS("/files", http.Dir("."))
		}
	}
	return r.Run(addr)
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// progressEvent is one line of the response body's newline-delimited
// JSON progress stream.
type progressEvent struct {
	Stage string `json:"stage"`
	Event string `json:"event"`
	Index int    `json:"index,omitempty"`
	Total int    `json:"total,omitempty"`
	Error string `json:"error,omitempty"`
}

// streamingReporter writes one JSON line per event directly to the HTTP
// response, flushing on stage transitions so a client sees progress
// incrementally instead of only after the whole job completes -- the
// same chunked-response idea the teacher's postJob used for its plain-
// text argument echo, generalized to structured per-stage events.
type streamingReporter struct {
	enc *json.Encoder
	w   http.Flusher
}

func (r *streamingReporter) StageStarted(stage progress.Stage, total int) {
	r.enc.Encode(progressEvent{Stage: string(stage), Event: "started", Total: total})
	r.w.Flush()
}

func (r *streamingReporter) FrameDone(stage progress.Stage, index int) {
	r.enc.Encode(progressEvent{Stage: string(stage), Event: "frame", Index: index})
}

func (r *streamingReporter) StageDone(stage progress.Stage) {
	r.enc.Encode(progressEvent{Stage: string(stage), Event: "done"})
	r.w.Flush()
}

func (r *streamingReporter) Failed(stage progress.Stage, err error) {
	r.enc.Encode(progressEvent{Stage: string(stage), Event: "failed", Error: err.Error()})
	r.w.Flush()
}

func backendFor(name string) (compute.Backend, error) {
	switch name {
	case "gpu":
		return gpubackend.New()
	case "cpu", "":
		return cpubackend.New(), nil
	case "auto":
		if b, err := gpubackend.New(); err == nil {
			return b, nil
		}
		return cpubackend.New(), nil
	default:
		return nil, fmt.Errorf("rest: unknown backend %q", name)
	}
}

func (s *Server) postJob(c *gin.Context) {
	var cfg pipelinecfg.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rest: response writer does not support flushing"})
		return
	}
	reporter := &streamingReporter{enc: json.NewEncoder(w), w: flusher}

	reader, err := s.Open(cfg.Input)
	if err != nil {
		reporter.Failed("read", err)
		return
	}
	defer reader.Close()

	backend, err := backendFor(cfg.Backend)
	if err != nil {
		reporter.Failed("read", err)
		return
	}

	orch := pipeline.New(cfg, backend, reporter)
	if err := orch.Run(reader); err != nil {
		reporter.Failed("write", err)
		return
	}
	debug.FreeOSMemory()
}
