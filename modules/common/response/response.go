package response

import (
	"encoding/json"
	"net/http"

	"dream-canvas-server/modules/common/apperror"
)

// Envelope - {success, error, errorCode} 공통 응답
type Envelope struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// JSON - 상태 코드와 함께 JSON 응답
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error - 에러 Kind에 맞는 상태 코드와 사용자 메시지로 응답
func Error(w http.ResponseWriter, err error) {
	kind := apperror.KindOf(err)
	JSON(w, apperror.HTTPStatus(kind), Envelope{
		Success:   false,
		Error:     apperror.UserMessage(err),
		ErrorCode: string(kind),
	})
}

// DecodeJSON - 요청 본문 파싱 (크기 제한 포함). 실패 시 ValidationError
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.Validation("Invalid request body")
	}
	return nil
}
