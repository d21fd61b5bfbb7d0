package auth

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"dream-canvas-server/modules/common/apperror"
)

const (
	msgInvalidCredentials = "Invalid email or password. Please try again."
	msgAlreadyRegistered  = "This email is already registered. Please sign in instead."
	msgSessionExpired     = "Your session has expired. Please sign in again."
)

// gotrue 에러 형식: "response status code 400: {json body}"
var statusPattern = regexp.MustCompile(`(?s)^response status code (\d{3})(?::\s*(.*))?$`)

// FriendlyError - 인증 서비스 에러를 사용자 메시지로 변환.
// 알려진 메시지는 치환하고, 그 외에는 서비스 메시지를 그대로 사용
func FriendlyError(err error) error {
	if err == nil {
		return nil
	}

	status, message := parseBackendError(err.Error())
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "invalid login credentials"),
		strings.Contains(lower, "invalid credentials"):
		return apperror.Wrap(err, apperror.KindAuthentication, msgInvalidCredentials)
	case strings.Contains(lower, "already registered"),
		strings.Contains(lower, "already exists"):
		return apperror.Wrap(err, apperror.KindConflict, msgAlreadyRegistered)
	case strings.Contains(lower, "refresh token"),
		strings.Contains(lower, "refresh_token"):
		return apperror.Wrap(err, apperror.KindAuthentication, msgSessionExpired)
	}

	switch {
	case status == 429:
		return apperror.Wrap(err, apperror.KindRateLimit, message)
	case status == 401 || status == 403:
		return apperror.Wrap(err, apperror.KindAuthentication, message)
	case status >= 400 && status < 500:
		return apperror.Wrap(err, apperror.KindValidation, message)
	default:
		return apperror.Wrap(err, apperror.KindUpstream, message)
	}
}

// parseBackendError - 상태 코드와 본문의 메시지 필드 추출
func parseBackendError(raw string) (int, string) {
	m := statusPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, raw
	}
	status, _ := strconv.Atoi(m[1])
	body := strings.TrimSpace(m[2])
	if body == "" {
		return status, raw
	}

	var payload struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
		Error            string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return status, body
	}
	for _, candidate := range []string{payload.Msg, payload.Message, payload.ErrorDescription, payload.Error} {
		if candidate != "" {
			return status, candidate
		}
	}
	return status, body
}
