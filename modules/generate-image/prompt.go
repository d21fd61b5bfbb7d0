package generateimage

import (
	"strings"
	"unicode/utf8"

	"dream-canvas-server/modules/common/apperror"
	"dream-canvas-server/modules/common/model"
)

// MaxPromptLength - 프롬프트 최대 길이 (문자 수)
const MaxPromptLength = 2000

// qualitySuffix - 모든 스타일 공통 품질 문구
const qualitySuffix = "High quality, highly detailed, sharp focus, professional composition"

// styleSuffixes - 스타일별 묘사 문구
var styleSuffixes = map[model.Style]string{
	model.StyleCinematic:   "cinematic film still, dramatic lighting, shallow depth of field, anamorphic lens, color graded",
	model.StyleAnime:       "anime style, vibrant colors, clean line art, cel shading, expressive characters",
	model.StyleRealistic:   "photorealistic, natural lighting, realistic textures, shot on a DSLR camera",
	model.StyleFantasy:     "fantasy art, magical atmosphere, epic scale, ethereal glow, intricate details",
	model.StyleCyberpunk:   "cyberpunk aesthetic, neon lights, futuristic city, rain-soaked streets, high-tech atmosphere",
	model.StyleWatercolor:  "watercolor painting, soft washes, delicate brush strokes, paper texture, flowing pigments",
	model.StyleOilPainting: "oil painting, rich impasto texture, visible brush strokes, classical fine art",
	model.Style3DRender:    "3D render, octane render, global illumination, smooth materials, studio lighting",
}

// StyleSuffix - 알 수 없는 스타일은 기본 프리셋 문구
func StyleSuffix(style model.Style) string {
	return styleSuffixes[style.OrDefault()]
}

// BuildPrompt - 원본 프롬프트 + 스타일 문구 + 품질 문구
func BuildPrompt(prompt string, style model.Style) string {
	return strings.TrimSpace(prompt) + ", " + StyleSuffix(style) + ". " + qualitySuffix
}

// ValidatePrompt - 공백 제거 후 비어 있거나 너무 길면 ValidationError
func ValidatePrompt(prompt string) (string, error) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return "", apperror.Validation("Please enter a prompt.")
	}
	if utf8.RuneCountInString(trimmed) > MaxPromptLength {
		return "", apperror.Validation("Prompt must be less than 2000 characters.")
	}
	return trimmed, nil
}
