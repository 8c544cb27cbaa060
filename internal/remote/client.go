package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sysu-ecnc-dev/seat-manager/internal/config"
	"github.com/sysu-ecnc-dev/seat-manager/internal/domain"
)

// Client 是面向后端 API 的类型化客户端，网关的所有出网请求都经过它。
// 它负责把传输层面的失败归一成 ErrNetwork、把 401 归一成 ErrUnauthorized，
// 上层据此决定是重试排队还是放弃
type Client struct {
	config     *config.Config
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		config:  cfg,
		baseURL: strings.TrimRight(cfg.Remote.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Remote.RequestTimeout) * time.Second,
		},
	}
}

type AuthResponse struct {
	Token   string          `json:"token"`
	Manager *domain.Manager `json:"manager"`
}

type RegisterLibraryRequest struct {
	Name     string                 `json:"name"`
	Capacity int                    `json:"capacity"`
	Quote    string                 `json:"quote,omitempty"`
	Location string                 `json:"location,omitempty"`
	Shifts   []domain.ShiftTemplate `json:"shifts"`
}

type BookingRequest struct {
	Name        string `json:"name"`
	DateOfJoin  string `json:"dateofJoin"`
	Contact     string `json:"contact"`
	Email       string `json:"email,omitempty"`
	ShiftName   string `json:"shiftName,omitempty"`
	OperationID string `json:"operationId,omitempty"`
}

type SeatGridResponse struct {
	Library *domain.Library `json:"library"`
	Seats   []*domain.Seat  `json:"seats"`
}

// Probe 探测后端是否可达，连通性监视器定期调用它
func (c *Client) Probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(c.config.Remote.ProbeTimeout)*time.Second)
	defer cancel()

	return c.do(probeCtx, "", http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) Signup(ctx context.Context, name, email, password string) (*AuthResponse, error) {
	body := map[string]string{"name": name, "email": email, "password": password}
	resp := &AuthResponse{}
	if err := c.do(ctx, "", http.MethodPost, "/auth/signup", body, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	body := map[string]string{"email": email, "password": password}
	resp := &AuthResponse{}
	if err := c.do(ctx, "", http.MethodPost, "/auth/login", body, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetMyLibrary(ctx context.Context, token string) (*domain.Library, error) {
	var resp struct {
		Library *domain.Library `json:"library"`
	}
	if err := c.do(ctx, token, http.MethodGet, "/library/me", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Library, nil
}

func (c *Client) RegisterLibrary(ctx context.Context, token string, req *RegisterLibraryRequest) (int64, error) {
	var resp struct {
		LibraryID int64 `json:"libraryId"`
	}
	if err := c.do(ctx, token, http.MethodPost, "/library/registerlibrary", req, &resp); err != nil {
		return 0, err
	}
	return resp.LibraryID, nil
}

func (c *Client) GetSeatGrid(ctx context.Context, token string, libraryID int64) (*SeatGridResponse, error) {
	resp := &SeatGridResponse{}
	if err := c.do(ctx, token, http.MethodGet, fmt.Sprintf("/seats/%d/", libraryID), nil, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) BookSeat(ctx context.Context, token string, libraryID int64, seatNumber int, req *BookingRequest) (*domain.Student, error) {
	var resp struct {
		Student *domain.Student `json:"student"`
	}
	path := fmt.Sprintf("/seats/%d/%d/book", libraryID, seatNumber)
	if err := c.do(ctx, token, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return resp.Student, nil
}

func (c *Client) UpdateStudentInfo(ctx context.Context, token string, libraryID int64, seatNumber int, shiftName string, req *BookingRequest) (*domain.Student, error) {
	var resp struct {
		Student *domain.Student `json:"student"`
	}
	path := fmt.Sprintf("/seats/%d/%d/book/%s", libraryID, seatNumber, shiftName)
	if err := c.do(ctx, token, http.MethodPut, path, req, &resp); err != nil {
		return nil, err
	}
	return resp.Student, nil
}

func (c *Client) DeleteBooking(ctx context.Context, token string, libraryID int64, seatNumber int, shiftName string) error {
	path := fmt.Sprintf("/seats/%d/%d/book/%s", libraryID, seatNumber, shiftName)
	return c.do(ctx, token, http.MethodDelete, path, nil, nil)
}

// Replay 按队列里记录的原始方法、路径和报文重放一次操作。
// 重放走的是和在线请求完全相同的通道，因此幂等保护同样生效
func (c *Client) Replay(ctx context.Context, token string, op *domain.PendingOperation) error {
	var body any
	if len(op.Payload) > 0 {
		body = json.RawMessage(op.Payload)
	}
	return c.do(ctx, token, op.Method, op.Path, body, nil)
}

func (c *Client) do(ctx context.Context, token, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 连接失败和超时都归为网络错误，等待网络恢复后重试
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Code: resp.StatusCode}
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			statusErr.Message = payload.Message
		}
		return statusErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("解析远端响应失败: %w", err)
		}
	}

	return nil
}
