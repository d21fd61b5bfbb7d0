package generateimage

import (
	"context"
	"fmt"

	"dream-canvas-server/modules/common/config"
	"dream-canvas-server/modules/common/storage"
)

// ImageRequest - 모델에 보낼 단일 사용자 메시지
type ImageRequest struct {
	Prompt    string
	ImageMIME string // 편집 모드일 때만
	ImageData []byte
}

// HasImage - 참조 이미지 포함 여부 (편집 모드)
func (r ImageRequest) HasImage() bool {
	return len(r.ImageData) > 0
}

// ImageResult - 모델이 반환한 첫 번째 이미지
type ImageResult struct {
	MIME string
	Data []byte
}

// ImageModel - 이미지 생성 모델.
// 실패는 apperror.ClassifyUpstream으로 분류된 에러로 반환
type ImageModel interface {
	Name() string
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error)
}

// NewImageModel - IMAGE_PROVIDER 설정에 맞는 provider 생성
func NewImageModel(ctx context.Context, cfg *config.Config, fetcher *storage.Client) (ImageModel, error) {
	switch cfg.ImageProvider {
	case "gemini":
		return NewGeminiProvider(ctx, cfg)
	case "gateway", "":
		return NewGatewayProvider(cfg.ImageGatewayURL, cfg.ImageGatewayAPIKey, cfg.ImageModel, nil, fetcher), nil
	default:
		return nil, fmt.Errorf("unknown image provider: %s", cfg.ImageProvider)
	}
}
