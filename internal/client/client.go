// internal/client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	apperrors "github.com/Corphon/Lumina/internal/errors"
	"github.com/Corphon/Lumina/internal/models"
)

// LuminaClient 调用远程 Lumina 服务的 /api/generate-* 接口，实现与本地提供者相同的生成契约
type LuminaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewLuminaClient 创建客户端，baseURL 为空时读取 LUMINA_URL
func NewLuminaClient(baseURL string) *LuminaClient {
	if baseURL == "" {
		baseURL = getEnvOrDefault("LUMINA_URL", "http://localhost:8080")
	}
	return &LuminaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// GenerateScript POST /api/generate-script
func (c *LuminaClient) GenerateScript(ctx context.Context, topic string) (*models.ExplainerScript, error) {
	var script models.ExplainerScript
	if err := c.doJSONRequest(ctx, "/api/generate-script", map[string]string{"topic": topic}, &script); err != nil {
		return nil, apperrors.NewUpstreamError("Failed to generate script", err)
	}
	if err := script.Validate(); err != nil {
		return nil, apperrors.NewUpstreamError("Failed to generate script", err)
	}
	return script.StripAssets(), nil
}

// GenerateImage POST /api/generate-image
func (c *LuminaClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	var resp struct {
		Image string `json:"image"`
	}
	if err := c.doJSONRequest(ctx, "/api/generate-image", map[string]string{"prompt": prompt}, &resp); err != nil {
		return "", apperrors.NewUpstreamError("Failed to generate image", err)
	}
	if resp.Image == "" {
		return "", apperrors.NewUpstreamError("Failed to generate image", errors.New("empty image"))
	}
	return resp.Image, nil
}

// GenerateSpeech POST /api/generate-speech
func (c *LuminaClient) GenerateSpeech(ctx context.Context, text string) (string, error) {
	var resp struct {
		Audio string `json:"audio"`
	}
	if err := c.doJSONRequest(ctx, "/api/generate-speech", map[string]string{"text": text}, &resp); err != nil {
		return "", apperrors.NewUpstreamError("Failed to generate speech", err)
	}
	if resp.Audio == "" {
		return "", apperrors.NewUpstreamError("Failed to generate speech", errors.New("empty audio"))
	}
	return resp.Audio, nil
}

// History GET /api/history
func (c *LuminaClient) History(ctx context.Context) ([]string, error) {
	var resp struct {
		Topics []string `json:"topics"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/history", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Topics, nil
}

func (c *LuminaClient) doJSONRequest(ctx context.Context, path string, payload, result interface{}) error {
	return c.doRequest(ctx, http.MethodPost, path, payload, result)
}

// doRequest 发送请求，任何非成功状态或格式错误的响应体都视为失败
func (c *LuminaClient) doRequest(ctx context.Context, method, path string, payload, result interface{}) error {
	url := c.baseURL + path

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
