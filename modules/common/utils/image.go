package utils

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"dream-canvas-server/modules/common/apperror"
)

// MaxUploadBytes - 업로드 이미지 최대 크기 (디코딩 후 10 MiB)
const MaxUploadBytes = 10 << 20

// AllowedUploadTypes - 업로드 허용 MIME
var AllowedUploadTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
}

// ParseDataURI - "data:<mime>;base64,<payload>" 파싱
func ParseDataURI(uri string) (string, []byte, error) {
	mime, payload, err := splitDataURI(uri)
	if err != nil {
		return "", nil, err
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return mime, data, nil
}

// BuildDataURI - 바이너리를 data URI로 변환 (mime이 비어 있으면 내용으로 추정)
func BuildDataURI(mime string, data []byte) string {
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ValidateUpload - 업로드 이미지 검증 (네트워크 호출 전에 수행).
// 허용 MIME(jpeg/jpg/png/webp)과 10 MiB 제한 위반 시 ValidationError
func ValidateUpload(uri string) (string, []byte, error) {
	mime, payload, err := splitDataURI(uri)
	if err != nil {
		return "", nil, apperror.Validation("Uploaded file must be an image data URL.")
	}
	if !AllowedUploadTypes[mime] {
		return "", nil, apperror.Validation(fmt.Sprintf("Unsupported image type %q. Please upload a JPEG, PNG or WebP image.", mime))
	}
	// 디코딩 전에 크기 상한 확인
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxUploadBytes+2 {
		return "", nil, apperror.Validation("Image is too large. Maximum size is 10MB.")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, apperror.Validation("Uploaded image could not be decoded.")
	}
	if len(data) > MaxUploadBytes {
		return "", nil, apperror.Validation("Image is too large. Maximum size is 10MB.")
	}
	if len(data) == 0 {
		return "", nil, apperror.Validation("Uploaded image is empty.")
	}
	return mime, data, nil
}

// ExtensionForMIME - 다운로드 파일 확장자
func ExtensionForMIME(mime string) string {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}

func splitDataURI(uri string) (string, string, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "data:")
	if !ok {
		return "", "", fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", fmt.Errorf("data URI missing payload")
	}
	mime, encoding, _ := strings.Cut(meta, ";")
	if encoding != "base64" {
		return "", "", fmt.Errorf("data URI must be base64 encoded")
	}
	return strings.ToLower(mime), payload, nil
}
