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


package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/mlnoga/mrdenoise/internal/ops"
	"github.com/mlnoga/mrdenoise/internal/ops/restore"
	"github.com/mlnoga/mrdenoise/internal/stats"
	"github.com/mlnoga/mrdenoise/web"
)

// Creates the HTTP API router
func NewRouter() *gin.Engine {
	r := gin.Default()
	r.GET("/", getIndex)
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/stats", postStats)
			v1.POST("/denoise", postDenoise)
		}
	}
	return r
}

// Listens and serves the HTTP API on the given address, e.g. ":8080"
func Serve(addr string) error {
	return NewRouter().Run(addr)
}

func getIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Serializes and flushes writes from concurrent operators to a streaming response
type flushWriter struct {
	mutex sync.Mutex
	w     gin.ResponseWriter
}

func (fw *flushWriter) Write(p []byte) (n int, err error) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	n, err = fw.w.Write(p)
	fw.w.Flush()
	return n, err
}

// Starts a plain text streaming response and returns an operator context logging into it
func startLog(c *gin.Context) (*flushWriter, *ops.Context) {
	header := c.Writer.Header()
	header.Set("Content-Type", "text/plain; charset=utf-8")
	c.Writer.WriteHeader(http.StatusOK)
	logWriter := &flushWriter{w: c.Writer}
	return logWriter, ops.NewContext(logWriter, stats.DefaultLSEstimator)
}

// Runs the pipeline on the given inputs, logging errors
func runPipeline(op ops.Operator, ins []ops.Promise, ctx *ops.Context) error {
	promises, err := op.MakePromises(ins, ctx)
	if err != nil {
		return err
	}
	_, err = ops.MaterializeAll(promises, ctx.MaxThreads, true)
	return err
}

type postStatsArgs struct {
	FilePatterns  []string                 `json:"filePatterns"`
	EstimateSigma *restore.OpEstimateSigma `json:"estimateSigma"`
}

func postStats(c *gin.Context) {
	var args postStatsArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(args.FilePatterns) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file patterns given"})
		return
	}
	if args.EstimateSigma == nil {
		args.EstimateSigma = restore.NewOpEstimateSigma(true, true)
	}

	logWriter, ctx := startLog(c)
	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	seq := ops.NewOpSequence(ops.NewOpLoadMany(args.FilePatterns), args.EstimateSigma)
	if err := runPipeline(seq, nil, ctx); err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
}

type postDenoiseArgs struct {
	FilePatterns []string        `json:"filePatterns"` // optional, else the pipeline must load its own inputs
	Pipeline     *ops.OpSequence `json:"pipeline"`
}

func postDenoise(c *gin.Context) {
	var args postDenoiseArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Pipeline == nil || len(args.Pipeline.Steps) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty pipeline"})
		return
	}

	logWriter, ctx := startLog(c)
	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}
	fmt.Fprintf(logWriter, "Running on %s with %d threads and %d MB solver memory\n",
		ctx.CPU, ctx.MaxThreads, ctx.SolverMemoryMB)

	var seq ops.Operator = args.Pipeline
	if len(args.FilePatterns) > 0 {
		seq = ops.NewOpSequence(ops.NewOpLoadMany(args.FilePatterns), args.Pipeline)
	}
	if err := runPipeline(seq, nil, ctx); err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	fmt.Fprintf(logWriter, "Done.\n")
}
