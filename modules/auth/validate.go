package auth

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"dream-canvas-server/modules/common/apperror"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SignInForm - 로그인 입력
type SignInForm struct {
	Email    string `json:"email" validate:"required,max=255,email"`
	Password string `json:"password" validate:"required,min=6,max=100"`
}

// SignUpForm - 회원가입 입력
type SignUpForm struct {
	Email       string `json:"email" validate:"required,max=255,email"`
	Password    string `json:"password" validate:"required,min=6,max=100"`
	DisplayName string `json:"displayName" validate:"required,min=2,max=100"`
}

// 필드/규칙별 메시지
var ruleMessages = map[string]string{
	"Email.required":       "Email is required",
	"Email.max":            "Email must be less than 255 characters",
	"Email.email":          "Invalid email address",
	"Password.required":    "Password is required",
	"Password.min":         "Password must be at least 6 characters",
	"Password.max":         "Password must be less than 100 characters",
	"DisplayName.required": "Display name is required",
	"DisplayName.min":      "Display name must be at least 2 characters",
	"DisplayName.max":      "Display name must be less than 100 characters",
}

// Normalize - 이메일/표시 이름 공백 제거 (비밀번호는 그대로)
func (f *SignInForm) Normalize() {
	f.Email = strings.TrimSpace(f.Email)
}

func (f *SignUpForm) Normalize() {
	f.Email = strings.TrimSpace(f.Email)
	f.DisplayName = strings.TrimSpace(f.DisplayName)
}

// ValidateForm - 첫 번째로 위반된 규칙의 메시지를 ValidationError로 반환
func ValidateForm(form interface{}) error {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		if msg, ok := ruleMessages[first.Field()+"."+first.Tag()]; ok {
			return apperror.Validation(msg)
		}
		return apperror.Validation(first.Field() + " is invalid")
	}
	return apperror.Validation("Invalid input")
}
