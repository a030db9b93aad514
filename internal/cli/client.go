package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// WorkflowResponse — workflow definition из API.
type WorkflowResponse struct {
	Type        string         `json:"type"`
	Version     int            `json:"version"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Steps       []StepResponse `json:"steps"`
}

// StepResponse — шаг definition из API.
type StepResponse struct {
	Name           string   `json:"name"`
	Kind           string   `json:"kind"`
	RequiredFacts  []string `json:"required_facts,omitempty"`
	ProducesFacts  []string `json:"produces_facts,omitempty"`
	SkipWhen       string   `json:"skip_when,omitempty"`
	CompensateWith string   `json:"compensate_with,omitempty"`
}

// InstanceResponse — instance из API.
type InstanceResponse struct {
	ID                string         `json:"id"`
	WorkflowType      string         `json:"workflow_type"`
	DefinitionVersion int            `json:"definition_version"`
	CurrentStepIndex  int            `json:"current_step_index"`
	CurrentStep       string         `json:"current_step,omitempty"`
	Status            string         `json:"status"`
	Facts             map[string]any `json:"facts,omitempty"`
	Attempt           int            `json:"attempt"`
	NextRetryAt       string         `json:"next_retry_at,omitempty"`
	Error             string         `json:"error,omitempty"`
	CreatedAt         string         `json:"created_at"`
}

// StepEventResponse — запись истории instance из API.
type StepEventResponse struct {
	Seq       int64  `json:"seq"`
	StepName  string `json:"step_name,omitempty"`
	Outcome   string `json:"outcome"`
	Status    string `json:"status"`
	Attempt   int    `json:"attempt"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
}

// --- Request types ---

// StartInstanceRequest — запуск регистрации.
type StartInstanceRequest struct {
	Facts map[string]any `json:"facts,omitempty"`
}

// UserInputRequest — ответ пользователя.
type UserInputRequest struct {
	Facts map[string]any `json:"facts,omitempty"`
}

// CancelInstanceRequest — отмена instance.
type CancelInstanceRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ListInstancesOpts — параметры фильтрации instances.
type ListInstancesOpts struct {
	Status string
	Limit  int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Kontora API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Workflows ---

// ListWorkflows возвращает каталог workflow types.
func (c *Client) ListWorkflows() ([]WorkflowResponse, error) {
	var workflows []WorkflowResponse
	err := c.list("/api/v1/workflows", nil, &workflows)
	return workflows, err
}

// GetWorkflow возвращает последнюю версию definition.
func (c *Client) GetWorkflow(workflowType string) (*WorkflowResponse, error) {
	var workflow WorkflowResponse
	err := c.get("/api/v1/workflows/"+workflowType, &workflow)
	return &workflow, err
}

// --- Instances ---

// StartInstance запускает регистрацию указанного типа.
func (c *Client) StartInstance(workflowType string, req StartInstanceRequest) (*InstanceResponse, error) {
	var inst InstanceResponse
	err := c.post("/api/v1/workflows/"+workflowType+"/instances", req, &inst)
	return &inst, err
}

// ListInstances возвращает instances в указанном статусе.
func (c *Client) ListInstances(opts ListInstancesOpts) ([]InstanceResponse, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var instances []InstanceResponse
	err := c.list("/api/v1/instances", params, &instances)
	return instances, err
}

// GetInstance возвращает instance по ID.
func (c *Client) GetInstance(id string) (*InstanceResponse, error) {
	var inst InstanceResponse
	err := c.get("/api/v1/instances/"+id, &inst)
	return &inst, err
}

// ListEvents возвращает историю instance.
func (c *Client) ListEvents(instanceID string) ([]StepEventResponse, error) {
	var events []StepEventResponse
	err := c.list("/api/v1/instances/"+instanceID+"/events", nil, &events)
	return events, err
}

// SubmitInput подаёт ответ пользователя ожидающему instance.
func (c *Client) SubmitInput(id string, req UserInputRequest) (*InstanceResponse, error) {
	var inst InstanceResponse
	err := c.post("/api/v1/instances/"+id+"/input", req, &inst)
	return &inst, err
}

// CancelInstance отменяет регистрацию.
func (c *Client) CancelInstance(id string, reason string) (*InstanceResponse, error) {
	var inst InstanceResponse
	err := c.post("/api/v1/instances/"+id+"/cancel", CancelInstanceRequest{Reason: reason}, &inst)
	return &inst, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
