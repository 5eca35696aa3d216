package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ZammadClient Zammad 工单系统客户端
type ZammadClient struct {
	httpClient *resty.Client
	baseURL    string
	apiToken   string
	logger     *zap.Logger
}

// zammadTicketResponse 建单响应
type zammadTicketResponse struct {
	ID int `json:"id"`
}

// NewZammadClient 创建 Zammad 客户端
func NewZammadClient(baseURL, apiToken string, logger *zap.Logger) *ZammadClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if apiToken != "" {
		client.SetHeader("Authorization", "Bearer "+apiToken)
	}

	return &ZammadClient{
		httpClient: client,
		baseURL:    baseURL,
		apiToken:   apiToken,
		logger:     logger,
	}
}

// Enabled 是否配置了 Zammad 集成
func (c *ZammadClient) Enabled() bool {
	return c.apiToken != "" && c.baseURL != ""
}

// CreateTicket 创建工单，返回工单 id
func (c *ZammadClient) CreateTicket(ctx context.Context, payload map[string]interface{}) (int, error) {
	if !c.Enabled() {
		return 0, fmt.Errorf("zammad connector is not enabled")
	}

	var response zammadTicketResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&response).
		Post("/api/v1/tickets")
	if err != nil {
		return 0, fmt.Errorf("failed to call Zammad API: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("Zammad API error: status %d", resp.StatusCode())
	}
	if response.ID == 0 {
		return 0, fmt.Errorf("Zammad response missing ticket id")
	}

	c.logger.Info("Zammad ticket created",
		zap.Int("ticket_id", response.ID),
	)

	return response.ID, nil
}

// AddInternalNote 给已有工单追加内部备注（ack 回写用）
func (c *ZammadClient) AddInternalNote(ctx context.Context, ticketID int, subject, body string) error {
	if !c.Enabled() {
		return fmt.Errorf("zammad connector is not enabled")
	}

	payload := map[string]interface{}{
		"article": map[string]interface{}{
			"subject":  subject,
			"body":     body,
			"type":     "note",
			"internal": true,
		},
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		Put(fmt.Sprintf("/api/v1/tickets/%d", ticketID))
	if err != nil {
		return fmt.Errorf("failed to call Zammad API: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("Zammad API error: status %d", resp.StatusCode())
	}

	return nil
}
