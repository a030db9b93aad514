package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPNLU — NLU-коллаборатор поверх HTTP API.
//
// POST {base}/extract
//
//	{"facts": {...}, "schema": ["business_name", ...]}
//
// Ответ:
//
//	{"facts": {...}}                  — факты извлечены
//	{"clarification": "вопрос"}       — требуется уточнение
type HTTPNLU struct {
	baseURL string
	client  *http.Client
}

// NewHTTPNLU создаёт NLU-клиент.
func NewHTTPNLU(baseURL string) *HTTPNLU {
	return &HTTPNLU{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Extract извлекает факты по схеме шага.
func (c *HTTPNLU) Extract(ctx context.Context, facts map[string]any, schema []string) (*ExtractResult, error) {
	body := map[string]any{
		"facts":  facts,
		"schema": schema,
	}

	var result ExtractResult
	if err := postJSON(ctx, c.client, c.baseURL+"/extract", body, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// HTTPAutomation — automation-коллаборатор поверх HTTP API.
//
// POST {base}/tasks — принимает задачу, немедленно возвращает
// {"task_id": "..."}; результат позже приходит callback'ом.
type HTTPAutomation struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAutomation создаёт automation-клиент.
func NewHTTPAutomation(baseURL string) *HTTPAutomation {
	return &HTTPAutomation{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// SubmitTask отправляет задачу automation-коллаборатору.
func (c *HTTPAutomation) SubmitTask(ctx context.Context, req TaskRequest) (string, error) {
	var result struct {
		TaskID string `json:"task_id"`
	}
	if err := postJSON(ctx, c.client, c.baseURL+"/tasks", req, &result); err != nil {
		return "", err
	}
	if result.TaskID == "" {
		return "", fmt.Errorf("%w: empty task_id in response", ErrCollaborator)
	}

	return result.TaskID, nil
}

// HTTPExternal — опрос статуса внешней системы поверх HTTP API.
//
// POST {base}/status
//
//	{"ref": "...", "config": {...}}
//
// Ответ:
//
//	{"done": true, "facts": {...}}
//	{"done": false, "retry_after_sec": 3600}
//	{"failed": true, "permanent": true, "reason": "..."}
type HTTPExternal struct {
	baseURL string
	client  *http.Client
}

// NewHTTPExternal создаёт клиент опроса внешних систем.
func NewHTTPExternal(baseURL string) *HTTPExternal {
	return &HTTPExternal{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// PollStatus опрашивает статус внешней обработки.
func (c *HTTPExternal) PollStatus(ctx context.Context, ref string, config map[string]any) (*PollResult, error) {
	body := map[string]any{
		"ref":    ref,
		"config": config,
	}

	var raw struct {
		Done          bool           `json:"done"`
		Facts         map[string]any `json:"facts,omitempty"`
		RetryAfterSec int            `json:"retry_after_sec,omitempty"`
		Failed        bool           `json:"failed,omitempty"`
		Permanent     bool           `json:"permanent,omitempty"`
		Reason        string         `json:"reason,omitempty"`
	}
	if err := postJSON(ctx, c.client, c.baseURL+"/status", body, &raw); err != nil {
		return nil, err
	}

	return &PollResult{
		Done:       raw.Done,
		Facts:      raw.Facts,
		RetryAfter: time.Duration(raw.RetryAfterSec) * time.Second,
		Failed:     raw.Failed,
		Permanent:  raw.Permanent,
		Reason:     raw.Reason,
	}, nil
}

// postJSON выполняет POST с JSON телом и декодирует JSON-ответ.
//
// HTTP >= 400 превращается в ErrCollaborator с кодом и началом тела.
func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal body: %v", ErrCollaborator, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrCollaborator, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCollaborator, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrCollaborator, err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: HTTP %d: %s", ErrCollaborator, resp.StatusCode, truncate(string(respBody), 200))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%w: unmarshal response: %v", ErrCollaborator, err)
		}
	}

	return nil
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// BaseURLFromEnv возвращает базовый URL коллаборатора из окружения.
func BaseURLFromEnv(envVar, fallback string) string {
	if url := os.Getenv(envVar); url != "" {
		return url
	}
	return fallback
}
