package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dreamware/waypoint/internal/graph"
)

// WorkerInfo is a registered worker as the manager knows it
type WorkerInfo struct {
	GRPCAddr  string         `json:"grpc_addr"`
	AdminAddr string         `json:"admin_addr"`
	ID        graph.WorkerID `json:"id"`
}

// RegisterRequest is sent by a worker to POST /register
type RegisterRequest struct {
	GRPCAddr  string `json:"grpc_addr"`
	AdminAddr string `json:"admin_addr"`
}

// RegisterResponse carries the fragment id assigned to the worker
type RegisterResponse struct {
	WorkerID graph.WorkerID `json:"worker_id"`
}

// WorkersResponse is returned by GET /workers. Complete is true once every
// fragment has a worker.
type WorkersResponse struct {
	Workers  []WorkerInfo `json:"workers"`
	Complete bool         `json:"complete"`
}

// FragmentResponse is returned by GET /fragment?worker=N
type FragmentResponse struct {
	Nodes    []graph.NodeRecord `json:"nodes"`
	Edges    []graph.EdgeRecord `json:"edges"`
	WorkerID graph.WorkerID     `json:"worker_id"`
}

// StatusError is returned by PostJSON and GetJSON for non-2xx replies
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %s: %d", e.URL, e.Code)
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &StatusError{URL: url, Code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &StatusError{URL: url, Code: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
