package generateimage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"dream-canvas-server/modules/common/apperror"
	"dream-canvas-server/modules/common/logger"
	"dream-canvas-server/modules/common/storage"
	"dream-canvas-server/modules/common/utils"
)

// maxGatewayResponse - 응답 본문 상한 (base64 이미지 포함)
const maxGatewayResponse = 64 << 20

// GatewayProvider - OpenAI 호환 chat-completions 게이트웨이
type GatewayProvider struct {
	url        string
	apiKey     string
	model      string
	httpClient *http.Client
	fetcher    *storage.Client
	log        *zap.Logger
}

type gatewayRequest struct {
	Model      string           `json:"model"`
	Messages   []gatewayMessage `json:"messages"`
	Modalities []string         `json:"modalities"`
}

type gatewayMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string 또는 []gatewayPart
}

type gatewayPart struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	ImageURL *gatewayImageURL `json:"image_url,omitempty"`
}

type gatewayImageURL struct {
	URL string `json:"url"`
}

type gatewayResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Images  []struct {
				Type     string          `json:"type"`
				ImageURL gatewayImageURL `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewGatewayProvider - httpClient가 nil이면 기본 클라이언트 (타임아웃은 ctx로 제어)
func NewGatewayProvider(url, apiKey, model string, httpClient *http.Client, fetcher *storage.Client) *GatewayProvider {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if fetcher == nil {
		fetcher = storage.NewClient(httpClient)
	}
	return &GatewayProvider{
		url:        url,
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
		fetcher:    fetcher,
		log:        logger.Module("Gateway"),
	}
}

func (p *GatewayProvider) Name() string { return "gateway:" + p.model }

// GenerateImage - POST {url}, 결과는 choices[0].message.images[0].image_url.url
func (p *GatewayProvider) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	body, err := json.Marshal(gatewayRequest{
		Model:      p.model,
		Messages:   []gatewayMessage{buildGatewayMessage(req)},
		Modalities: []string{"image", "text"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode gateway request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	p.log.Info("📤 [Gateway] Sending image request",
		zap.String("model", p.model),
		zap.Int("prompt_length", len(req.Prompt)),
		zap.Bool("edit_mode", req.HasImage()))

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperror.Upstream(fmt.Errorf("gateway request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayResponse))
	if err != nil {
		return nil, apperror.Upstream(fmt.Errorf("failed to read gateway response: %w", err))
	}

	var parsed gatewayResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		p.log.Error("❌ [Gateway] Request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("error", truncate(msg, 300)))
		return nil, apperror.ClassifyUpstream(resp.StatusCode,
			fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, msg))
	}
	if decodeErr != nil {
		return nil, apperror.Upstream(fmt.Errorf("failed to parse gateway response: %w", decodeErr))
	}

	if len(parsed.Choices) == 0 || len(parsed.Choices[0].Message.Images) == 0 {
		return nil, apperror.Upstream(errors.New("no image in gateway response"))
	}
	imageURL := parsed.Choices[0].Message.Images[0].ImageURL.URL
	if imageURL == "" {
		return nil, apperror.Upstream(errors.New("empty image url in gateway response"))
	}

	mime, data, err := p.fetcher.FetchImage(ctx, imageURL)
	if err != nil {
		return nil, apperror.Upstream(fmt.Errorf("failed to read generated image: %w", err))
	}
	if len(data) == 0 {
		return nil, apperror.Upstream(errors.New("generated image is empty"))
	}

	p.log.Info("✅ [Gateway] Received image", zap.String("mime", mime), zap.Int("bytes", len(data)))
	return &ImageResult{MIME: mime, Data: data}, nil
}

// buildGatewayMessage - 텍스트만이면 string content, 편집 모드면 text + image_url 파트
func buildGatewayMessage(req ImageRequest) gatewayMessage {
	if !req.HasImage() {
		return gatewayMessage{Role: "user", Content: req.Prompt}
	}
	return gatewayMessage{
		Role: "user",
		Content: []gatewayPart{
			{Type: "text", Text: req.Prompt},
			{Type: "image_url", ImageURL: &gatewayImageURL{URL: utils.BuildDataURI(req.ImageMIME, req.ImageData)}},
		},
	}
}

// truncate - 앞 n개 rune만 남김
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
