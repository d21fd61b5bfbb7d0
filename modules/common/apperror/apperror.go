package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Kind - 에러 분류
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindAuthentication Kind = "authentication_error"
	KindAuthorization  Kind = "authorization_error"
	KindRateLimit      Kind = "rate_limit_error"
	KindQuotaExhausted Kind = "quota_exhausted_error"
	KindConflict       Kind = "conflict_error"
	KindNotFound       Kind = "not_found_error"
	KindUpstream       Kind = "upstream_error"
	KindUnknown        Kind = "unknown_error"
)

// 사용자에게 보여지는 기본 메시지
const (
	MsgRateLimit      = "Rate limit exceeded. Please wait a moment and try again."
	MsgQuotaExhausted = "AI credits exhausted. Please add credits to continue."
	MsgGenerateFailed = "Failed to generate image. Please try again."
	MsgGeneric        = "Something went wrong. Please try again."
	MsgUnauthorized   = "Please sign in to continue."
	MsgNotFound       = "Generation not found."
	MsgInFlight       = "A generation is already in progress."
	MsgNoImage        = "This generation has no image to download."
)

// AppError - Kind + 사용자 메시지 + 원인 에러
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// New - AppError 생성
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap - 기존 에러를 감싸서 AppError 생성
func Wrap(err error, kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *AppError { return New(KindValidation, message) }

func Authentication(message string) *AppError {
	if message == "" {
		message = MsgUnauthorized
	}
	return New(KindAuthentication, message)
}

func Authorization(message string) *AppError { return New(KindAuthorization, message) }

func RateLimit(err error) *AppError { return Wrap(err, KindRateLimit, MsgRateLimit) }

func QuotaExhausted(err error) *AppError { return Wrap(err, KindQuotaExhausted, MsgQuotaExhausted) }

func Conflict(message string) *AppError { return New(KindConflict, message) }

func NotFound(message string) *AppError { return New(KindNotFound, message) }

func Upstream(err error) *AppError { return Wrap(err, KindUpstream, MsgGenerateFailed) }

// KindOf - 에러 체인에서 Kind 추출 (AppError가 없으면 Unknown)
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// Is - 에러가 해당 Kind인지 확인
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus - Kind별 HTTP 상태 코드
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindQuotaExhausted:
		return http.StatusPaymentRequired
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage - 사용자에게 노출할 메시지
func UserMessage(err error) string {
	var ae *AppError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return MsgGeneric
}

// upstreamCodePattern - status 없는 에러 메시지 안의 "status 429", "Error 402" 형태
var upstreamCodePattern = regexp.MustCompile(`\b(?:status|code|error)[\s:=]*(429|402)\b`)

// ClassifyUpstream - 모델 호출 실패를 Kind로 분류.
// status가 있으면 status만 보고, 0일 때만 메시지 검사
func ClassifyUpstream(status int, err error) *AppError {
	switch status {
	case http.StatusTooManyRequests:
		return RateLimit(err)
	case http.StatusPaymentRequired:
		return QuotaExhausted(err)
	case 0:
	default:
		return Upstream(err)
	}

	if err == nil {
		return Upstream(nil)
	}
	msg := strings.ToLower(err.Error())
	code := ""
	if m := upstreamCodePattern.FindStringSubmatch(msg); m != nil {
		code = m[1]
	}
	switch {
	case code == "429",
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "resource_exhausted"),
		strings.Contains(msg, "too many requests"):
		return RateLimit(err)
	case code == "402",
		strings.Contains(msg, "payment required"),
		strings.Contains(msg, "quota exceeded"),
		strings.Contains(msg, "insufficient credits"):
		return QuotaExhausted(err)
	}
	return Upstream(err)
}
