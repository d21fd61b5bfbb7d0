package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"dream-canvas-server/modules/common/logger"
	"dream-canvas-server/modules/common/utils"
)

// maxFetchBytes - 원격 이미지 다운로드 상한
const maxFetchBytes = 32 << 20

type Client struct {
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient - 이미지 fetch 클라이언트 생성
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		log:        logger.Module("Storage"),
	}
}

// FetchImage - 저장된 image_url에서 바이너리 가져오기 (data URI 또는 http(s) URL)
func (c *Client) FetchImage(ctx context.Context, imageURL string) (string, []byte, error) {
	if strings.HasPrefix(imageURL, "data:") {
		return utils.ParseDataURI(imageURL)
	}
	if !strings.HasPrefix(imageURL, "http://") && !strings.HasPrefix(imageURL, "https://") {
		return "", nil, fmt.Errorf("unsupported image location")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create download request: %w", err)
	}

	c.log.Info("📥 [Storage] Downloading image", zap.String("url", imageURL))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.log.Error("❌ [Storage] Download failed",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return "", nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if len(data) > maxFetchBytes {
		return "", nil, fmt.Errorf("image exceeds %d bytes", maxFetchBytes)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}

	c.log.Info("✅ [Storage] Image downloaded", zap.Int("bytes", len(data)))
	return mime, data, nil
}
