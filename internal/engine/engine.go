// Package engine is the REST client for the external execution engine: the
// system that runs deployed automations, discovers MQTT topics, and
// validates candidate code. Every endpoint is read-only from the planner's
// perspective except validate.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"homebrain.dev/planner/internal/domain"
)

// maxResponseBytes bounds how much of any response body this client will
// buffer, per spec.md §4.7.
const maxResponseBytes = 2 * 1024 * 1024

// Automation is one row of GET /automations.
type Automation struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// ValidateRequest is the POST /validate body.
type ValidateRequest struct {
	Code string          `json:"code"`
	Type domain.FileKind `json:"type"`
}

// ValidateResponse is the POST /validate result.
type ValidateResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Adapter is the External Engine Adapter (C4).
type Adapter struct {
	http    *http.Client
	baseURL string
}

// Config configures an Adapter.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// New constructs an Adapter.
func New(cfg Config) *Adapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		http:    &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
	}
}

// Topics calls GET /topics. A transport error degrades to an empty slice.
func (a *Adapter) Topics(ctx context.Context) []string {
	var out []string
	if err := a.getJSON(ctx, "/topics", &out); err != nil {
		return []string{}
	}
	return out
}

// Automations calls GET /automations. A transport error degrades to empty.
func (a *Adapter) Automations(ctx context.Context) []Automation {
	var out []Automation
	if err := a.getJSON(ctx, "/automations", &out); err != nil {
		return []Automation{}
	}
	return out
}

// LibraryModules calls GET /library. A transport error degrades to empty.
func (a *Adapter) LibraryModules(ctx context.Context) []domain.LibraryModule {
	var out []domain.LibraryModule
	if err := a.getJSON(ctx, "/library", &out); err != nil {
		return []domain.LibraryModule{}
	}
	return out
}

// LibraryCode calls GET /library/{name}. A transport error, or a genuine
// "not found" response, both degrade to ("", false); the bool separates a
// fetched body from either of those, not the two from each other.
func (a *Adapter) LibraryCode(ctx context.Context, name string) (string, bool) {
	body, status, err := a.getRaw(ctx, "/library/"+name)
	if err != nil || status == http.StatusNotFound {
		return "", false
	}
	return string(body), true
}

// GlobalStateSchema calls GET /global-state-schema. A transport error
// degrades to an empty map.
func (a *Adapter) GlobalStateSchema(ctx context.Context) map[string][]string {
	out := map[string][]string{}
	if err := a.getJSON(ctx, "/global-state-schema", &out); err != nil {
		return map[string][]string{}
	}
	return out
}

// Validate calls POST /validate. A transport error is turned into a
// synthetic failing response rather than propagated, since the planner's
// validate/fix loop must always have a ValidatedCode to act on.
func (a *Adapter) Validate(ctx context.Context, code string, kind domain.FileKind) ValidateResponse {
	reqBody, err := json.Marshal(ValidateRequest{Code: code, Type: kind})
	if err != nil {
		return ValidateResponse{Valid: false, Errors: []string{fmt.Sprintf("Validation request failed: %v", err)}}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/validate", bytes.NewReader(reqBody))
	if err != nil {
		return ValidateResponse{Valid: false, Errors: []string{fmt.Sprintf("Validation request failed: %v", err)}}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return ValidateResponse{Valid: false, Errors: []string{fmt.Sprintf("Validation request failed: %v", err)}}
	}
	defer resp.Body.Close()

	var out ValidateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return ValidateResponse{Valid: false, Errors: []string{fmt.Sprintf("Validation request failed: %v", err)}}
	}
	return out
}

func (a *Adapter) getJSON(ctx context.Context, path string, out any) error {
	body, status, err := a.getRaw(ctx, path)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("engine: %s returned status %d", path, status)
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (a *Adapter) getRaw(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("engine: build request: %w", err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("engine: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("engine: read response %s: %w", path, err)
	}
	return body, resp.StatusCode, nil
}
