// internal/llm/providers/google/google.go
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Corphon/Lumina/internal/errors"
	"github.com/Corphon/Lumina/internal/llm"
	"github.com/Corphon/Lumina/internal/models"
	"github.com/Corphon/Lumina/internal/utils"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

func init() {
	llm.Register("google", func() llm.Provider {
		return &Provider{
			baseURL:       defaultBaseURL,
			scriptModel:   "gemini-2.5-flash",
			imageModel:    "imagen-4.0-generate-001",
			fallbackModel: "gemini-2.5-flash-image",
			speechModel:   "gemini-2.5-flash-preview-tts",
			voice:         "Kore",
			sceneCount:    llm.DefaultSceneCount,
		}
	})
}

// Provider 基于 Gemini REST API 的生成后端
type Provider struct {
	apiKey        string
	baseURL       string
	client        *http.Client
	scriptModel   string
	imageModel    string
	fallbackModel string
	speechModel   string
	voice         string
	sceneCount    int
	logger        *utils.Logger
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("google_api密钥未提供")
	}

	p.apiKey = apiKey
	p.client = &http.Client{Timeout: 2 * time.Minute}
	p.logger = utils.GetLogger().With(map[string]interface{}{"provider": "google"})

	if v := config["base_url"]; v != "" {
		p.baseURL = strings.TrimRight(v, "/")
	}
	if v := config["script_model"]; v != "" {
		p.scriptModel = v
	}
	if v := config["image_model"]; v != "" {
		p.imageModel = v
	}
	if v := config["image_fallback_model"]; v != "" {
		p.fallbackModel = v
	}
	if v := config["speech_model"]; v != "" {
		p.speechModel = v
	}
	if v := config["voice"]; v != "" {
		p.voice = v
	}
	if v := config["scene_count"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("scene_count 非法: %q", v)
		}
		p.sceneCount = n
	}

	return nil
}

func (p *Provider) GetName() string {
	return "google gemini"
}

// inlineData Gemini 响应中的二进制内容
type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type contentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text       string      `json:"text,omitempty"`
				InlineData *inlineData `json:"inlineData,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

func (r *contentResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

func (r *contentResponse) firstInline() *inlineData {
	if len(r.Candidates) == 0 {
		return nil
	}
	for _, part := range r.Candidates[0].Content.Parts {
		if part.InlineData != nil && part.InlineData.Data != "" {
			return part.InlineData
		}
	}
	return nil
}

func userContents(text string) []map[string]interface{} {
	return []map[string]interface{}{
		{"role": "user", "parts": []map[string]string{{"text": text}}},
	}
}

// GenerateScript 生成结构化讲解脚本
func (p *Provider) GenerateScript(ctx context.Context, topic string) (*models.ExplainerScript, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, apperrors.NewValidationError("topic is required", nil)
	}

	requestBody := map[string]interface{}{
		"contents": userContents(llm.BuildScriptPrompt(topic, p.sceneCount)),
		"generationConfig": map[string]interface{}{
			"responseMimeType": "application/json",
			"responseSchema":   llm.ScriptSchema(),
		},
	}

	var resp contentResponse
	if err := p.post(ctx, p.scriptModel+":generateContent", requestBody, &resp); err != nil {
		return nil, err
	}

	text := resp.text()
	if text == "" {
		return nil, apperrors.NewUpstreamError("failed to generate script", llm.ErrEmptyResponse)
	}

	var script models.ExplainerScript
	if err := json.Unmarshal([]byte(text), &script); err != nil {
		return nil, apperrors.NewUpstreamError("script response is not valid JSON", err)
	}
	if err := script.Validate(); err != nil {
		return nil, apperrors.NewUpstreamError("script response is incomplete", err)
	}
	return script.StripAssets(), nil
}

// GenerateImage 优先使用 Imagen 模型，失败后回退到支持图像输出的 Gemini 模型
func (p *Provider) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", apperrors.NewValidationError("prompt is required", nil)
	}

	image, err := p.generateImagen(ctx, prompt)
	if err == nil {
		return image, nil
	}
	p.logger.Warn("primary image model failed, falling back", map[string]interface{}{
		"model":    p.imageModel,
		"fallback": p.fallbackModel,
		"error":    err.Error(),
	})

	image, fallbackErr := p.generateFlashImage(ctx, prompt)
	if fallbackErr != nil {
		return "", apperrors.NewUpstreamError("image generation failed", errors.Join(err, fallbackErr))
	}
	return image, nil
}

func (p *Provider) generateImagen(ctx context.Context, prompt string) (string, error) {
	requestBody := map[string]interface{}{
		"instances": []map[string]string{{"prompt": prompt}},
		"parameters": map[string]interface{}{
			"sampleCount":    1,
			"aspectRatio":    "16:9",
			"outputMimeType": "image/jpeg",
		},
	}

	var resp struct {
		Predictions []struct {
			BytesBase64Encoded string `json:"bytesBase64Encoded"`
			MimeType           string `json:"mimeType"`
		} `json:"predictions"`
	}
	if err := p.post(ctx, p.imageModel+":predict", requestBody, &resp); err != nil {
		return "", err
	}
	if len(resp.Predictions) == 0 || resp.Predictions[0].BytesBase64Encoded == "" {
		return "", errors.New("no image generated")
	}

	return "data:image/jpeg;base64," + resp.Predictions[0].BytesBase64Encoded, nil
}

func (p *Provider) generateFlashImage(ctx context.Context, prompt string) (string, error) {
	requestBody := map[string]interface{}{
		"contents": userContents(prompt),
		"generationConfig": map[string]interface{}{
			"responseModalities": []string{"IMAGE"},
		},
	}

	var resp contentResponse
	if err := p.post(ctx, p.fallbackModel+":generateContent", requestBody, &resp); err != nil {
		return "", err
	}

	data := resp.firstInline()
	if data == nil {
		return "", errors.New("fallback model returned no image")
	}
	mime := data.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + data.Data, nil
}

// GenerateSpeech 生成旁白语音，返回 base64 原始 PCM
func (p *Provider) GenerateSpeech(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", apperrors.NewValidationError("text is required", nil)
	}

	requestBody := map[string]interface{}{
		"contents": userContents(text),
		"generationConfig": map[string]interface{}{
			"responseModalities": []string{"AUDIO"},
			"speechConfig": map[string]interface{}{
				"voiceConfig": map[string]interface{}{
					"prebuiltVoiceConfig": map[string]string{"voiceName": p.voice},
				},
			},
		},
	}

	var resp contentResponse
	if err := p.post(ctx, p.speechModel+":generateContent", requestBody, &resp); err != nil {
		return "", err
	}

	data := resp.firstInline()
	if data == nil {
		return "", apperrors.NewUpstreamError("failed to generate speech", llm.ErrEmptyResponse)
	}
	return data.Data, nil
}

// post 发送请求并解析响应，非200状态统一视为生成后端错误
func (p *Provider) post(ctx context.Context, method string, requestBody interface{}, out interface{}) error {
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return err
	}

	apiURL := fmt.Sprintf("%s/models/%s?key=%s", p.baseURL, method, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return apperrors.NewUpstreamError("google gemini 请求失败", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64<<10))
		var errorResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &errorResp) == nil && errorResp.Error.Message != "" {
			return apperrors.NewUpstreamError(
				fmt.Sprintf("google gemini API错误(%d)", httpResp.StatusCode),
				errors.New(errorResp.Error.Message))
		}
		return apperrors.NewUpstreamError(
			fmt.Sprintf("google gemini API错误(%d)", httpResp.StatusCode),
			errors.New(strings.TrimSpace(string(body))))
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return apperrors.NewUpstreamError("google gemini 响应解析失败", err)
	}
	return nil
}
