package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// ColumnResponse — колонка заголовка хранилища.
type ColumnResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// BufferResponse — состояние одного буфера.
type BufferResponse struct {
	ID        int    `json:"id"`
	ChannelID string `json:"channel_id"`
	Usable    bool   `json:"usable"`
	Allowed   bool   `json:"allowed"`
	Queued    int    `json:"queued"`
}

// PumpResponse — состояние перекачки в sink.
type PumpResponse struct {
	Running bool   `json:"running"`
	Breaker string `json:"breaker"`
}

// StatusResponse — состояние хранилища.
type StatusResponse struct {
	Exchange          string           `json:"exchange"`
	Format            string           `json:"format"`
	Columns           []ColumnResponse `json:"columns"`
	ConnectionRunning bool             `json:"connection_running"`
	Size              int              `json:"size"`
	Available         int              `json:"available"`
	Buffers           []BufferResponse `json:"buffers"`
	Pump              *PumpResponse    `json:"pump,omitempty"`
}

// ReadResponse — результат чтения.
type ReadResponse struct {
	Result   string           `json:"result"`
	Messages int              `json:"messages"`
	Columns  []string         `json:"columns,omitempty"`
	Rows     []map[string]any `json:"rows"`
	Acked    bool             `json:"acked"`
}

// PublishResponse — id опубликованных сообщений.
type PublishResponse struct {
	MessageIDs []string `json:"message_ids"`
}

// --- Request types ---

// ReadRequest — параметры чтения.
type ReadRequest struct {
	Limit   int      `json:"limit,omitempty"`
	Columns []string `json:"columns,omitempty"`
	Ack     *bool    `json:"ack,omitempty"`
}

// PublishRequest — публикация сообщений.
type PublishRequest struct {
	RoutingKey string   `json:"routing_key"`
	Messages   []string `json:"messages"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для API сервера приёма.
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

// Status возвращает состояние хранилища.
func (c *Client) Status() (*StatusResponse, error) {
	var status StatusResponse
	err := c.get("/api/v1/status", &status)
	return &status, err
}

// Read выполняет одно чтение.
func (c *Client) Read(req ReadRequest) (*ReadResponse, error) {
	var res ReadResponse
	err := c.post("/api/v1/read", req, &res)
	return &res, err
}

// Publish публикует сообщения с ключом маршрутизации.
func (c *Client) Publish(req PublishRequest) (*PublishResponse, error) {
	var res PublishResponse
	err := c.post("/api/v1/publish", req, &res)
	return &res, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
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
