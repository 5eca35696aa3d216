package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookClient 通用 Webhook 投递客户端（目标地址来自升级目标配置）
type WebhookClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewWebhookClient 创建 Webhook 客户端
func NewWebhookClient(logger *zap.Logger) *WebhookClient {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &WebhookClient{
		httpClient: client,
		logger:     logger,
	}
}

// Post 向目标 URL 投递 JSON 载荷
func (c *WebhookClient) Post(ctx context.Context, url string, payload interface{}) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		Post(url)
	if err != nil {
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook error: status %d", resp.StatusCode())
	}

	return nil
}
