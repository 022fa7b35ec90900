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

package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/als-computing/tierflow/config"
)

func TestIngest(t *testing.T) {
	assert := assert.New(t)

	var received ingestRequest
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&received)
		if received.FilePath == "run666/bad.h5" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte("no such dataset"))
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	service := New(config.CatalogConfig{
		URL:     server.URL,
		Token:   "catalog-token",
		Timeout: 10 * time.Second,
	})
	err := service.Ingest(context.Background(), "run002/scan", "orchestration.flows.bl832.ingest_tomo832")
	assert.Nil(err)
	assert.Equal("Bearer catalog-token", authorization)
	assert.Equal("run002/scan", received.FilePath)
	assert.Equal("orchestration.flows.bl832.ingest_tomo832", received.IngestorModule)

	err = service.Ingest(context.Background(), "run666/bad.h5", "x")
	var ingestErr *IngestError
	assert.ErrorAs(err, &ingestErr)
	assert.Equal(http.StatusUnprocessableEntity, ingestErr.Status)
	assert.Equal("no such dataset", ingestErr.Message)
}

func TestUnreachableCatalog(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	service := New(config.CatalogConfig{URL: url, Timeout: time.Second})
	err := service.Ingest(context.Background(), "run002/scan", "x")
	assert.IsType(t, &UnavailableError{}, err)
}

func TestDisabledCatalog(t *testing.T) {
	assert := assert.New(t)
	service := New(config.CatalogConfig{})
	assert.IsType(Disabled{}, service)
	assert.Nil(service.Ingest(context.Background(), "run002/scan", "x"))
}
