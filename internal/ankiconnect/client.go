// Package ankiconnect talks to a running Anki instance through the
// AnkiConnect add-on: JSON over HTTP POST, each request carrying
// {action, version, params} and each response the two-field
// {result, error} envelope.
package ankiconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"resty.dev/v3"
)

const (
	// protocolVersion is the AnkiConnect API version this client speaks.
	protocolVersion = 6
	// notesInfoBatchSize bounds how many note ids one notesInfo call carries.
	notesInfoBatchSize = 500
)

type Client struct {
	httpClient *resty.Client
}

// NewClient creates a client for the AnkiConnect endpoint, usually
// http://localhost:8765.
func NewClient(endpoint string, timeout time.Duration) *Client {
	client := resty.New()
	client.SetBaseURL(endpoint)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	return &Client{httpClient: client}
}

func (client *Client) Close() error {
	return client.httpClient.Close()
}

type request struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

// Invoke performs one AnkiConnect action and decodes its result into
// out. A non-null error field in the envelope is returned as an error;
// a connection failure means Anki is not running or the add-on is not
// installed.
func (client *Client) Invoke(ctx context.Context, action string, params any, out any) error {
	httpResponse, err := client.httpClient.R().
		SetContext(ctx).
		SetBody(request{Action: action, Version: protocolVersion, Params: params}).
		Post("/")
	if err != nil {
		return fmt.Errorf("AnkiConnect is not reachable (is Anki running with the add-on installed?): %w", err)
	}
	if httpResponse.IsError() {
		return fmt.Errorf("response error %d: %s", httpResponse.StatusCode(), httpResponse.String())
	}

	var envelope response
	if err := json.Unmarshal(httpResponse.Bytes(), &envelope); err != nil {
		return fmt.Errorf("json.Unmarshal(%s) > %w", httpResponse.String(), err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("AnkiConnect error for %s: %s", action, *envelope.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("json.Unmarshal(result of %s) > %w", action, err)
	}
	return nil
}

// FindNotes returns the ids of all notes matching an Anki search query.
func (client *Client) FindNotes(ctx context.Context, query string) ([]int64, error) {
	var noteIDs []int64
	if err := client.Invoke(ctx, "findNotes", map[string]any{"query": query}, &noteIDs); err != nil {
		return nil, fmt.Errorf("findNotes > %w", err)
	}
	return noteIDs, nil
}

// FieldValue is one field of a note as AnkiConnect reports it.
type FieldValue struct {
	Value string `json:"value"`
	Order int    `json:"order"`
}

// NoteInfo is the per-note payload of a notesInfo response.
type NoteInfo struct {
	NoteID int64                 `json:"noteId"`
	Fields map[string]FieldValue `json:"fields"`
}

// NotesInfo fetches note details, batching requests so a single call
// never carries more than 500 ids.
func (client *Client) NotesInfo(ctx context.Context, noteIDs []int64) ([]NoteInfo, error) {
	infos := make([]NoteInfo, 0, len(noteIDs))
	for start := 0; start < len(noteIDs); start += notesInfoBatchSize {
		end := min(start+notesInfoBatchSize, len(noteIDs))

		var batch []NoteInfo
		if err := client.Invoke(ctx, "notesInfo", map[string]any{"notes": noteIDs[start:end]}, &batch); err != nil {
			return nil, fmt.Errorf("notesInfo > %w", err)
		}
		infos = append(infos, batch...)
	}
	return infos, nil
}

// UpdateNoteFields sets the given fields of one note. Setting a field
// to the value it already holds is a no-op, so updates are idempotent.
func (client *Client) UpdateNoteFields(ctx context.Context, noteID int64, fields map[string]string) error {
	params := map[string]any{
		"note": map[string]any{
			"id":     noteID,
			"fields": fields,
		},
	}
	if err := client.Invoke(ctx, "updateNoteFields", params, nil); err != nil {
		return fmt.Errorf("updateNoteFields(note %d) > %w", noteID, err)
	}
	return nil
}
