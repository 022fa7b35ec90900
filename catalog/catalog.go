// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package catalog registers newly archived data with a metadata catalog.
// Cataloging is best-effort: callers log ingestion errors and carry on.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/als-computing/tierflow/config"
	"github.com/als-computing/tierflow/endpoints/globus"
)

// Service ingests a file into the catalog using the named ingestor, which
// knows how to extract metadata from the file's format.
type Service interface {
	Ingest(ctx context.Context, filePath, ingestor string) error
}

// Client posts ingestion requests to an HTTP ingestion endpoint.
type Client struct {
	url    string
	token  string
	client *http.Client
}

// New returns a catalog service for the given configuration. If no URL is
// configured, ingestion is disabled and every request succeeds without
// effect.
func New(conf config.CatalogConfig) Service {
	if conf.URL == "" {
		return Disabled{}
	}
	return &Client{
		url:    conf.URL,
		token:  conf.Token,
		client: globus.SecureHttpClient(conf.Timeout),
	}
}

// an ingestion request
type ingestRequest struct {
	FilePath       string `json:"file_path"`
	IngestorModule string `json:"ingestor_module"`
}

func (c *Client) Ingest(ctx context.Context, filePath, ingestor string) error {
	data, err := json.Marshal(ingestRequest{
		FilePath:       filePath,
		IngestorModule: ingestor,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	slog.Debug(fmt.Sprintf("POST: %s", c.url))
	resp, err := c.client.Do(req)
	if err != nil {
		return &UnavailableError{URL: c.url, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &IngestError{
			FilePath: filePath,
			Status:   resp.StatusCode,
			Message:  string(body),
		}
	}
	return nil
}

// Disabled is a catalog service that ingests nothing.
type Disabled struct{}

func (Disabled) Ingest(ctx context.Context, filePath, ingestor string) error {
	slog.Debug(fmt.Sprintf("Cataloging is disabled; not ingesting %s", filePath))
	return nil
}
