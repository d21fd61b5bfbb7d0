package generateimage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"dream-canvas-server/modules/common/apperror"
	"dream-canvas-server/modules/common/config"
	"dream-canvas-server/modules/common/logger"
)

// GeminiProvider - google.golang.org/genai 직접 호출 (Gemini API 또는 Vertex AI)
type GeminiProvider struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// NewGeminiProvider - GEMINI_BACKEND=vertex면 프로젝트/리전 기반 Vertex AI 클라이언트
func NewGeminiProvider(ctx context.Context, cfg *config.Config) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.GeminiBackend == "vertex" {
		cc = &genai.ClientConfig{
			Project:  cfg.GoogleCloudProject,
			Location: cfg.GoogleCloudLocation,
			Backend:  genai.BackendVertexAI,
		}
	}
	return newGeminiProvider(ctx, cc, cfg.GeminiModel)
}

func newGeminiProvider(ctx context.Context, cc *genai.ClientConfig, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	l := logger.Module("Gemini")
	l.Info("✅ [Gemini] Client initialized",
		zap.String("backend", cc.Backend.String()),
		zap.String("model", model))
	return &GeminiProvider{client: client, model: model, log: l}, nil
}

func (p *GeminiProvider) Name() string { return "gemini:" + p.model }

// GenerateImage - 텍스트(+참조 이미지) 파트로 호출, 첫 번째 InlineData가 결과
func (p *GeminiProvider) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	if req.HasImage() {
		parts = append(parts, genai.NewPartFromBytes(req.ImageData, req.ImageMIME))
	}
	content := &genai.Content{Role: genai.RoleUser, Parts: parts}

	p.log.Info("📤 [Gemini] Sending image request",
		zap.String("model", p.model),
		zap.Int("prompt_length", len(req.Prompt)),
		zap.Bool("edit_mode", req.HasImage()))

	result, err := p.client.Models.GenerateContent(ctx, p.model, []*genai.Content{content},
		&genai.GenerateContentConfig{
			ResponseModalities: []string{"IMAGE", "TEXT"},
		})
	if err != nil {
		p.log.Error("❌ [Gemini] API call failed", zap.Error(err))
		return nil, classifyGeminiError(err)
	}

	if len(result.Candidates) == 0 {
		return nil, apperror.Upstream(errors.New("no candidates in response"))
	}

	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				p.log.Info("✅ [Gemini] Received image",
					zap.String("mime", part.InlineData.MIMEType),
					zap.Int("bytes", len(part.InlineData.Data)))
				mime := part.InlineData.MIMEType
				if mime == "" {
					mime = http.DetectContentType(part.InlineData.Data)
				}
				return &ImageResult{MIME: mime, Data: part.InlineData.Data}, nil
			}
		}
	}

	return nil, apperror.Upstream(errors.New("no image data in response"))
}

// classifyGeminiError - APIError.Code가 있으면 상태 코드로, 없으면 메시지로 분류
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apperror.ClassifyUpstream(apiErr.Code, fmt.Errorf("gemini API call failed: %w", err))
	}
	return apperror.ClassifyUpstream(0, fmt.Errorf("gemini API call failed: %w", err))
}
