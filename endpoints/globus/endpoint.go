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

package globus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/als-computing/tierflow/config"
	"github.com/als-computing/tierflow/endpoints"
)

// This file implements endpoints.TransferService with the Globus Transfer API
// described at https://docs.globus.org/api/transfer/.

const globusTransferApiVersion = "v0.10"

// layout of the last_modified field in directory listings
const lastModifiedLayout = "2006-01-02 15:04:05-07:00"

// TransferClient moves, lists, and deletes data on Globus endpoints.
type TransferClient struct {
	rest           restClient
	label          string
	syncLevel      int
	verifyChecksum bool
}

// NewTransferClient creates a Globus Transfer client from the given
// configuration.
func NewTransferClient(conf config.Config, auth *Authenticator) *TransferClient {
	return &TransferClient{
		rest: restClient{
			baseURL: strings.TrimRight(conf.Globus.TransferURL, "/") + "/" + globusTransferApiVersion,
			scope:   TransferScope,
			auth:    auth,
			client:  auth.client,
		},
		label:          conf.Transfer.Label,
		syncLevel:      conf.Transfer.SyncLevel,
		verifyChecksum: conf.Transfer.VerifyChecksum,
	}
}

// https://docs.globus.org/api/transfer/task_submit/#get_submission_id
func (c *TransferClient) getSubmissionId(ctx context.Context) (uuid.UUID, error) {
	body, err := c.rest.get(ctx, "submission_id", url.Values{})
	if err != nil {
		return uuid.Nil, err
	}
	type SubmissionIdResponse struct {
		Value uuid.UUID `json:"value"`
	}
	var response SubmissionIdResponse
	err = json.Unmarshal(body, &response)
	return response.Value, err
}

// https://docs.globus.org/api/transfer/task_submit/#submit_transfer_task
// https://docs.globus.org/api/transfer/task_submit/#transfer_item_fields
func (c *TransferClient) Submit(ctx context.Context, request endpoints.TransferRequest) (uuid.UUID, error) {
	submissionId, err := c.getSubmissionId(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	label := request.Label
	if label == "" {
		label = c.label
	}

	type TransferItem struct {
		DataType        string `json:"DATA_TYPE"` // "transfer_item"
		SourcePath      string `json:"source_path"`
		DestinationPath string `json:"destination_path"`
		Recursive       bool   `json:"recursive"`
	}
	type SubmissionRequest struct {
		DataType            string         `json:"DATA_TYPE"` // "transfer"
		Id                  string         `json:"submission_id"`
		Label               string         `json:"label"`
		Data                []TransferItem `json:"DATA"`
		DestinationEndpoint string         `json:"destination_endpoint"`
		SourceEndpoint      string         `json:"source_endpoint"`
		SyncLevel           int            `json:"sync_level"`
		VerifyChecksum      bool           `json:"verify_checksum"`
		FailOnQuotaErrors   bool           `json:"fail_on_quota_errors"`
	}
	body, err := c.rest.post(ctx, "transfer", SubmissionRequest{
		DataType: "transfer",
		Id:       submissionId.String(),
		Label:    label,
		Data: []TransferItem{
			{
				DataType:        "transfer_item",
				SourcePath:      request.SourcePath,
				DestinationPath: request.DestinationPath,
				Recursive:       request.Recursive,
			},
		},
		DestinationEndpoint: request.Destination.Id.String(),
		SourceEndpoint:      request.Source.Id.String(),
		SyncLevel:           c.syncLevel,
		VerifyChecksum:      c.verifyChecksum,
		FailOnQuotaErrors:   true,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return taskIdFromResponse("transfer", body)
}

// extracts the task_id from a submission response. Globus answers a repeated
// submission ID with code "Duplicate" and the ID of the original task.
func taskIdFromResponse(resource string, body []byte) (uuid.UUID, error) {
	type SubmissionResponse struct {
		TaskId  uuid.UUID `json:"task_id"`
		Code    string    `json:"code"`
		Message string    `json:"message"`
	}
	var gResp SubmissionResponse
	if err := json.Unmarshal(body, &gResp); err != nil {
		return uuid.Nil, err
	}
	if gResp.TaskId == uuid.Nil { // trouble!
		return uuid.Nil, &MissingIdError{
			Resource: resource,
			Code:     gResp.Code,
			Message:  gResp.Message,
		}
	}
	return gResp.TaskId, nil
}

// mapping of Globus status code strings to our status codes
var statusCodesForStrings = map[string]endpoints.TransferStatusCode{
	"ACTIVE":    endpoints.TransferStatusActive,
	"INACTIVE":  endpoints.TransferStatusInactive,
	"SUCCEEDED": endpoints.TransferStatusSucceeded,
	"FAILED":    endpoints.TransferStatusFailed,
}

// https://docs.globus.org/api/transfer/task/#get_task_by_id
func (c *TransferClient) Status(ctx context.Context, id uuid.UUID) (endpoints.TransferStatus, error) {
	body, err := c.rest.get(ctx, fmt.Sprintf("task/%s", id.String()), url.Values{})
	if err != nil {
		return endpoints.TransferStatus{}, err
	}
	type TaskResponse struct {
		Files            int    `json:"files"`
		FilesSkipped     int    `json:"files_skipped"`
		FilesTransferred int    `json:"files_transferred"`
		IsPaused         bool   `json:"is_paused"`
		Status           string `json:"status"`
		NiceStatus       string `json:"nice_status"`
		NiceStatusShort  string `json:"nice_status_short_description"`
		FatalError       *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"fatal_error"`
	}
	var response TaskResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return endpoints.TransferStatus{}, err
	}
	status := endpoints.TransferStatus{
		Code:                statusCodesForStrings[response.Status],
		NumFiles:            response.Files,
		NumFilesSkipped:     response.FilesSkipped,
		NumFilesTransferred: response.FilesTransferred,
	}
	if response.FatalError != nil {
		status.Message = fmt.Sprintf("%s: %s", response.FatalError.Code, response.FatalError.Description)
	} else if response.NiceStatusShort != "" {
		status.Message = response.NiceStatusShort
	} else {
		status.Message = response.NiceStatus
	}
	return status, nil
}

// https://docs.globus.org/api/transfer/task/#cancel_task_by_id
func (c *TransferClient) Cancel(ctx context.Context, id uuid.UUID) error {
	// The Globus documentation claims this call can take up to 10 seconds
	// before returning. The possible outcomes are identified with these codes:
	// 1. "Canceled": the task has been canceled
	// 2. "CancelAccepted": the request was acknowledged but not yet processed
	// 3. "TaskComplete": the task is complete and can't be canceled.
	// We issue the request asynchronously and settle for best-effort
	// execution, reporting only errors that are returned immediately.
	errChan := make(chan error, 1)
	go func() {
		resource := fmt.Sprintf("task/%s/cancel", id.String())
		_, err := c.rest.post(context.WithoutCancel(ctx), resource, nil)
		if err != nil {
			errChan <- err
			return
		}
		close(errChan)
	}()
	select {
	case err := <-errChan:
		return err
	case <-time.After(10 * time.Millisecond):
		return nil
	}
}

// ActiveTasks returns the UUIDs of active or suspended transfer tasks with
// the given label (https://docs.globus.org/api/transfer/task/#get_task_list).
func (c *TransferClient) ActiveTasks(ctx context.Context, label string) ([]uuid.UUID, error) {
	values := url.Values{}
	values.Add("fields", "task_id")
	values.Add("filter", fmt.Sprintf("status:ACTIVE,INACTIVE/label:%s", label))
	values.Add("limit", "1000")

	body, err := c.rest.get(ctx, "task_list", values)
	if err != nil {
		return nil, err
	}
	type TaskListResponse struct {
		Length int `json:"length"`
		Data   []struct {
			TaskId uuid.UUID `json:"task_id"`
		} `json:"DATA"`
	}
	var response TaskListResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, err
	}
	taskIds := make([]uuid.UUID, len(response.Data))
	for i, data := range response.Data {
		taskIds[i] = data.TaskId
	}
	return taskIds, nil
}

// a file or directory entry in a Globus listing or stat response
// (https://docs.globus.org/api/transfer/file_operations/#file_document)
type fileDocument struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
}

// converts the document to a FileObject; a file whose modification time can't
// be parsed is an error
func (d fileDocument) fileObject(dir string) (endpoints.FileObject, error) {
	obj := endpoints.FileObject{
		Name:  d.Name,
		Path:  path.Join(dir, d.Name),
		IsDir: d.Type == "dir",
		Size:  d.Size,
	}
	t, err := time.Parse(lastModifiedLayout, d.LastModified)
	if err == nil {
		obj.LastModified = t
	} else if !obj.IsDir {
		return endpoints.FileObject{}, &InvalidTimestampError{Path: obj.Path, Value: d.LastModified}
	}
	return obj, nil
}

// https://docs.globus.org/api/transfer/file_operations/#list_directory_contents
func (c *TransferClient) ListDirectory(ctx context.Context, endpoint endpoints.Endpoint,
	dir string) ([]endpoints.FileObject, error) {
	values := url.Values{}
	values.Add("path", dir)
	values.Add("orderby", "name ASC")
	resource := fmt.Sprintf("operation/endpoint/%s/ls", endpoint.Id.String())
	body, err := c.rest.get(ctx, resource, values)
	if err != nil {
		return nil, err
	}
	// https://docs.globus.org/api/transfer/file_operations/#dir_listing_response
	type DirListingResponse struct {
		Path string         `json:"path"`
		Data []fileDocument `json:"DATA"`
	}
	var response DirListingResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, err
	}
	objects := make([]endpoints.FileObject, len(response.Data))
	for i, doc := range response.Data {
		if objects[i], err = doc.fileObject(dir); err != nil {
			return nil, err
		}
	}
	return objects, nil
}

// walks the directory tree under the given path, filtering files by age on
// the client side
func (c *TransferClient) ListFiles(ctx context.Context, endpoint endpoints.Endpoint,
	dir string, olderThanDays int) ([]string, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	files := make([]string, 0)
	pending := []string{dir}
	for len(pending) > 0 {
		next := pending[0]
		pending = pending[1:]
		objects, err := c.ListDirectory(ctx, endpoint, next)
		if err != nil {
			return nil, err
		}
		for _, obj := range objects {
			if obj.IsDir {
				pending = append(pending, obj.Path)
			} else if olderThanDays <= 0 || !obj.LastModified.After(cutoff) {
				files = append(files, obj.Path)
			}
		}
	}
	return files, nil
}

// https://docs.globus.org/api/transfer/file_operations/#stat
func (c *TransferClient) FileObject(ctx context.Context, endpoint endpoints.Endpoint,
	p string) (endpoints.FileObject, bool, error) {
	values := url.Values{}
	values.Add("path", p)
	resource := fmt.Sprintf("operation/endpoint/%s/stat", endpoint.Id.String())
	body, err := c.rest.get(ctx, resource, values)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			return endpoints.FileObject{}, false, nil
		}
		return endpoints.FileObject{}, false, err
	}
	var doc fileDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return endpoints.FileObject{}, false, err
	}
	if doc.Name == "" {
		doc.Name = path.Base(p)
	}
	obj, err := doc.fileObject(path.Dir(p))
	if err != nil {
		return endpoints.FileObject{}, false, err
	}
	return obj, true, nil
}

// https://docs.globus.org/api/transfer/task_submit/#submit_delete_task
func (c *TransferClient) Delete(ctx context.Context, endpoint endpoints.Endpoint,
	paths []string) (uuid.UUID, error) {
	submissionId, err := c.getSubmissionId(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	type DeleteItem struct {
		DataType string `json:"DATA_TYPE"` // "delete_item"
		Path     string `json:"path"`
	}
	type DeleteRequest struct {
		DataType  string       `json:"DATA_TYPE"` // "delete"
		Id        string       `json:"submission_id"`
		Endpoint  string       `json:"endpoint"`
		Label     string       `json:"label"`
		Recursive bool         `json:"recursive"`
		Data      []DeleteItem `json:"DATA"`
	}
	request := DeleteRequest{
		DataType: "delete",
		Id:       submissionId.String(),
		Endpoint: endpoint.Id.String(),
		Label:    c.label,
		Data:     make([]DeleteItem, len(paths)),
	}
	for i, p := range paths {
		request.Data[i] = DeleteItem{DataType: "delete_item", Path: p}
		if strings.HasSuffix(p, "/") {
			request.Recursive = true
		}
	}
	body, err := c.rest.post(ctx, "delete", request)
	if err != nil {
		return uuid.Nil, err
	}
	return taskIdFromResponse("delete", body)
}
