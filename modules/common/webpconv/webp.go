package webpconv

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG 디코더 등록
	_ "image/png"  // PNG 디코더 등록

	_ "github.com/kolesa-team/go-webp/decoder" // WebP 디코더 등록
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"go.uber.org/zap"

	"dream-canvas-server/modules/common/logger"
)

// Convert - PNG/JPEG/WebP 바이너리를 lossy WebP로 변환
func Convert(data []byte, quality float32) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}

	out := buf.Bytes()
	logger.Module("WebP").Debug("🔄 [WebP] Image converted",
		zap.String("source_format", format),
		zap.Int("before_bytes", len(data)),
		zap.Int("after_bytes", len(out)))
	return out, nil
}
