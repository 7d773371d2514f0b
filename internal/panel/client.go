// Package panel предоставляет клиент для внешней панели управления хостингом.
//
// Панель имеет две поверхности API: application — административные операции
// (создание пользователей и серверов, изменение сборки, удаление) и client —
// эксплуатационные (состояние, ресурсы, сигналы питания). Идемпотентные
// чтения выполняются с ограниченным числом повторов; записи не повторяются,
// чтобы не задублировать побочный эффект.
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrNotFound возвращается, когда панель не знает запрошенный ресурс.
var ErrNotFound = errors.New("panel resource not found")

// APIError описывает ответ панели с неожиданным статусом.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("panel returned status %d: %s", e.Status, e.Body)
}

// Client инкапсулирует HTTP-взаимодействие с панелью управления.
type Client struct {
	baseURL     string
	apiKey      string
	readClient  *http.Client
	writeClient *http.Client
}

// NewClient создаёт клиент панели по указанному адресу и ключу API.
func NewClient(baseURL, apiKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		readClient: rc.StandardClient(),
		writeClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Limits описывает квоты ресурсов сервера в панели.
type Limits struct {
	Memory int64 `json:"memory"`
	Swap   int64 `json:"swap"`
	Disk   int64 `json:"disk"`
	IO     int64 `json:"io"`
	CPU    int64 `json:"cpu"`
}

// Allocation описывает сетевую привязку сервера.
type Allocation struct {
	ID        int64  `json:"id"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	IsDefault bool   `json:"is_default"`
}

// ServerDetails содержит сведения о сервере с client-поверхности панели.
type ServerDetails struct {
	Identifier  string
	UUID        string
	Name        string
	Suspended   bool
	Limits      Limits
	Allocations []Allocation
}

// DefaultAllocation возвращает сетевую привязку по умолчанию, если она есть.
func (d *ServerDetails) DefaultAllocation() (Allocation, bool) {
	for _, a := range d.Allocations {
		if a.IsDefault {
			return a, true
		}
	}
	return Allocation{}, false
}

// Resources содержит текущее потребление ресурсов сервера.
type Resources struct {
	CurrentState string
	MemoryBytes  int64
	CPUAbsolute  float64
	DiskBytes    int64
	Uptime       int64
}

// CreatedServer содержит идентификаторы созданного панелью сервера.
type CreatedServer struct {
	ID         int64
	Identifier string
	UUID       string
}

// CreateServerInput описывает параметры создания сервера в панели.
type CreateServerInput struct {
	Name        string
	PanelUserID int64
	EggID       int64
	LocationID  int64
	RAM         int64
	CPU         int64
	Disk        int64
}

// BuildLimits задаёт изменяемые квоты сборки; nil-поля остаются прежними.
type BuildLimits struct {
	Memory *int64
	CPU    *int64
	Disk   *int64
}

type clientServerResponse struct {
	Attributes struct {
		Identifier    string `json:"identifier"`
		UUID          string `json:"uuid"`
		Name          string `json:"name"`
		IsSuspended   bool   `json:"is_suspended"`
		Limits        Limits `json:"limits"`
		Relationships struct {
			Allocations struct {
				Data []struct {
					Attributes Allocation `json:"attributes"`
				} `json:"data"`
			} `json:"allocations"`
		} `json:"relationships"`
	} `json:"attributes"`
}

// ServerDetails запрашивает сведения о сервере по его идентификатору client API.
func (c *Client) ServerDetails(ctx context.Context, identifier string) (*ServerDetails, error) {
	var resp clientServerResponse
	if err := c.do(ctx, c.readClient, http.MethodGet, "/api/client/servers/"+identifier, nil, &resp); err != nil {
		return nil, err
	}

	d := &ServerDetails{
		Identifier: resp.Attributes.Identifier,
		UUID:       resp.Attributes.UUID,
		Name:       resp.Attributes.Name,
		Suspended:  resp.Attributes.IsSuspended,
		Limits:     resp.Attributes.Limits,
	}
	for _, a := range resp.Attributes.Relationships.Allocations.Data {
		d.Allocations = append(d.Allocations, a.Attributes)
	}

	return d, nil
}

type resourcesResponse struct {
	Attributes struct {
		CurrentState string `json:"current_state"`
		Resources    struct {
			MemoryBytes int64   `json:"memory_bytes"`
			CPUAbsolute float64 `json:"cpu_absolute"`
			DiskBytes   int64   `json:"disk_bytes"`
			Uptime      int64   `json:"uptime"`
		} `json:"resources"`
	} `json:"attributes"`
}

// ServerResources запрашивает текущее потребление ресурсов сервера.
func (c *Client) ServerResources(ctx context.Context, identifier string) (*Resources, error) {
	var resp resourcesResponse
	if err := c.do(ctx, c.readClient, http.MethodGet, "/api/client/servers/"+identifier+"/resources", nil, &resp); err != nil {
		return nil, err
	}

	return &Resources{
		CurrentState: resp.Attributes.CurrentState,
		MemoryBytes:  resp.Attributes.Resources.MemoryBytes,
		CPUAbsolute:  resp.Attributes.Resources.CPUAbsolute,
		DiskBytes:    resp.Attributes.Resources.DiskBytes,
		Uptime:       resp.Attributes.Resources.Uptime,
	}, nil
}

// SendPower отправляет серверу сигнал управления питанием.
// Успешный ответ означает принятие сигнала панелью, а не факт смены состояния.
func (c *Client) SendPower(ctx context.Context, identifier, signal string) error {
	body := map[string]string{"signal": signal}
	return c.do(ctx, c.writeClient, http.MethodPost, "/api/client/servers/"+identifier+"/power", body, nil)
}

type applicationServerResponse struct {
	Attributes struct {
		ID            int64  `json:"id"`
		Identifier    string `json:"identifier"`
		UUID          string `json:"uuid"`
		Allocation    int64  `json:"allocation"`
		Limits        Limits `json:"limits"`
		FeatureLimits map[string]int64 `json:"feature_limits"`
	} `json:"attributes"`
}

// CreateServer создаёт сервер через application API панели.
func (c *Client) CreateServer(ctx context.Context, in CreateServerInput) (*CreatedServer, error) {
	body := map[string]any{
		"name": in.Name,
		"user": in.PanelUserID,
		"egg":  in.EggID,
		"limits": Limits{
			Memory: in.RAM,
			Swap:   0,
			Disk:   in.Disk,
			IO:     500,
			CPU:    in.CPU,
		},
		"feature_limits": map[string]int64{
			"databases":   0,
			"allocations": 1,
			"backups":     0,
		},
		"deploy": map[string]any{
			"locations":    []int64{in.LocationID},
			"dedicated_ip": false,
			"port_range":   []string{},
		},
		"start_on_completion": false,
	}

	var resp applicationServerResponse
	if err := c.do(ctx, c.writeClient, http.MethodPost, "/api/application/servers", body, &resp); err != nil {
		return nil, err
	}

	return &CreatedServer{
		ID:         resp.Attributes.ID,
		Identifier: resp.Attributes.Identifier,
		UUID:       resp.Attributes.UUID,
	}, nil
}

// DeleteServer удаляет сервер через application API по числовому идентификатору.
func (c *Client) DeleteServer(ctx context.Context, serverID int64) error {
	return c.do(ctx, c.writeClient, http.MethodDelete, fmt.Sprintf("/api/application/servers/%d", serverID), nil, nil)
}

type userListResponse struct {
	Data []struct {
		Attributes struct {
			ID int64 `json:"id"`
		} `json:"attributes"`
	} `json:"data"`
}

// UserByEmail ищет пользователя панели по email. Возвращает ErrNotFound, если его нет.
func (c *Client) UserByEmail(ctx context.Context, email string) (int64, error) {
	path := "/api/application/users?filter[email]=" + url.QueryEscape(email)

	var resp userListResponse
	if err := c.do(ctx, c.readClient, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}

	if len(resp.Data) == 0 {
		return 0, ErrNotFound
	}

	return resp.Data[0].Attributes.ID, nil
}

type userResponse struct {
	Attributes struct {
		ID int64 `json:"id"`
	} `json:"attributes"`
}

// CreateUser создаёт пользователя панели и возвращает его идентификатор.
func (c *Client) CreateUser(ctx context.Context, email, username, firstName, lastName string) (int64, error) {
	body := map[string]string{
		"email":      email,
		"username":   username,
		"first_name": firstName,
		"last_name":  lastName,
	}

	var resp userResponse
	if err := c.do(ctx, c.writeClient, http.MethodPost, "/api/application/users", body, &resp); err != nil {
		return 0, err
	}

	return resp.Attributes.ID, nil
}

// UpdateBuild изменяет квоты сборки сервера. Панель принимает только полный
// набор значений, поэтому сначала читаются текущие, затем отправляется патч
// с объединением: незаданные поля сохраняют прежние значения.
func (c *Client) UpdateBuild(ctx context.Context, serverID, allocationID int64, limits BuildLimits) error {
	var current applicationServerResponse
	path := fmt.Sprintf("/api/application/servers/%d", serverID)
	if err := c.do(ctx, c.readClient, http.MethodGet, path, nil, &current); err != nil {
		return err
	}

	merged := current.Attributes.Limits
	if limits.Memory != nil {
		merged.Memory = *limits.Memory
	}
	if limits.CPU != nil {
		merged.CPU = *limits.CPU
	}
	if limits.Disk != nil {
		merged.Disk = *limits.Disk
	}

	featureLimits := current.Attributes.FeatureLimits
	if featureLimits == nil {
		featureLimits = map[string]int64{}
	}

	body := map[string]any{
		"allocation":     allocationID,
		"memory":         merged.Memory,
		"swap":           merged.Swap,
		"disk":           merged.Disk,
		"io":             merged.IO,
		"cpu":            merged.CPU,
		"feature_limits": featureLimits,
	}

	return c.do(ctx, c.writeClient, http.MethodPatch, path+"/build", body, nil)
}

// CurrentLimits возвращает текущие квоты сборки сервера с application-поверхности.
func (c *Client) CurrentLimits(ctx context.Context, serverID int64) (*Limits, error) {
	var resp applicationServerResponse
	path := fmt.Sprintf("/api/application/servers/%d", serverID)
	if err := c.do(ctx, c.readClient, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	limits := resp.Attributes.Limits
	return &limits, nil
}

func (c *Client) do(ctx context.Context, client *http.Client, method, path string, body, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("panel client not configured")
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
