package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// SignalClient signal-cli-rest-api 群消息客户端
type SignalClient struct {
	httpClient     *resty.Client
	enabled        bool
	defaultGroupID string
	sendPath       string
	logger         *zap.Logger
}

// NewSignalClient 创建 Signal 客户端
func NewSignalClient(endpoint, defaultGroupID, sendPath string, enabled bool, logger *zap.Logger) *SignalClient {
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json")

	if sendPath == "" {
		sendPath = "/v2/send"
	}

	return &SignalClient{
		httpClient:     client,
		enabled:        enabled && endpoint != "",
		defaultGroupID: defaultGroupID,
		sendPath:       sendPath,
		logger:         logger,
	}
}

// Enabled 是否启用 Signal 发送
func (c *SignalClient) Enabled() bool {
	return c.enabled
}

// SendGroupMessage 发送群消息（groupID 为空时使用默认群）
func (c *SignalClient) SendGroupMessage(ctx context.Context, message, groupID string) error {
	if !c.enabled {
		return nil
	}

	if groupID == "" {
		groupID = c.defaultGroupID
	}

	payload := map[string]string{
		"message": message,
		"groupId": groupID,
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		Post(c.sendPath)
	if err != nil {
		return fmt.Errorf("failed to call Signal API: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("Signal API error: status %d", resp.StatusCode())
	}

	return nil
}
