package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// SendXMSClient SendXMS 短信网关客户端
type SendXMSClient struct {
	httpClient *resty.Client
	enabled    bool
	fromName   string
	sendPath   string
	logger     *zap.Logger
}

// NewSendXMSClient 创建短信客户端
func NewSendXMSClient(baseURL, apiKey, fromName, sendPath string, enabled bool, logger *zap.Logger) *SendXMSClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json")

	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}

	if sendPath == "" {
		sendPath = "/send"
	}

	return &SendXMSClient{
		httpClient: client,
		enabled:    enabled && baseURL != "",
		fromName:   fromName,
		sendPath:   sendPath,
		logger:     logger,
	}
}

// Enabled 是否启用短信发送
func (c *SendXMSClient) Enabled() bool {
	return c.enabled
}

// SendSMS 发送短信（未启用时静默成功）
func (c *SendXMSClient) SendSMS(ctx context.Context, to, message string) error {
	if !c.enabled {
		return nil
	}

	payload := map[string]string{
		"to":      to,
		"message": message,
		"from":    c.fromName,
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		Post(c.sendPath)
	if err != nil {
		return fmt.Errorf("failed to call SendXMS API: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("SendXMS API error: status %d", resp.StatusCode())
	}

	return nil
}
