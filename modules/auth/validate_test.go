package auth

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dream-canvas-server/modules/common/apperror"
)

func TestValidateForm(t *testing.T) {
	tests := []struct {
		name string
		form interface{}
		want string
	}{
		{"valid sign in", &SignInForm{Email: "a@b.co", Password: "123456"}, ""},
		{"missing email", &SignInForm{Password: "123456"}, "Email is required"},
		{"long email", &SignInForm{Email: strings.Repeat("a", 251) + "@b.co", Password: "123456"}, "Email must be less than 255 characters"},
		{"long password", &SignInForm{Email: "a@b.co", Password: strings.Repeat("p", 101)}, "Password must be less than 100 characters"},
		{"valid sign up", &SignUpForm{Email: "a@b.co", Password: "123456", DisplayName: "Al"}, ""},
		{"missing display name", &SignUpForm{Email: "a@b.co", Password: "123456"}, "Display name is required"},
		{"long display name", &SignUpForm{Email: "a@b.co", Password: "123456", DisplayName: strings.Repeat("d", 101)}, "Display name must be less than 100 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateForm(tt.form)
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			require.True(t, apperror.Is(err, apperror.KindValidation))
			require.Equal(t, tt.want, apperror.UserMessage(err))
		})
	}
}

func TestNormalizeKeepsPassword(t *testing.T) {
	form := &SignUpForm{Email: " a@b.co ", Password: " pass word ", DisplayName: " Al "}
	form.Normalize()
	require.Equal(t, "a@b.co", form.Email)
	require.Equal(t, "Al", form.DisplayName)
	require.Equal(t, " pass word ", form.Password)
}

func TestFriendlyError(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind apperror.Kind
		wantMsg  string
	}{
		{"invalid credentials", `response status code 400: {"error":"invalid_grant","error_description":"Invalid login credentials"}`, apperror.KindAuthentication, msgInvalidCredentials},
		{"already registered", `response status code 422: {"code":422,"msg":"User already registered"}`, apperror.KindConflict, msgAlreadyRegistered},
		{"rate limited", `response status code 429: {"msg":"Email rate limit exceeded"}`, apperror.KindRateLimit, "Email rate limit exceeded"},
		{"weak password", `response status code 422: {"msg":"Password should be at least 6 characters"}`, apperror.KindValidation, "Password should be at least 6 characters"},
		{"stale refresh token", `response status code 400: {"error":"invalid_grant","error_description":"Invalid Refresh Token: Refresh Token Not Found"}`, apperror.KindAuthentication, msgSessionExpired},
		{"reused refresh token", `response status code 400: {"code":"refresh_token_already_used","msg":"Invalid Refresh Token: Already Used"}`, apperror.KindAuthentication, msgSessionExpired},
		{"forbidden", `response status code 403: {"message":"Email not confirmed"}`, apperror.KindAuthentication, "Email not confirmed"},
		{"server error with plain body", `response status code 500: upstream exploded`, apperror.KindUpstream, "upstream exploded"},
		{"transport error", `dial tcp: connection refused`, apperror.KindUpstream, "dial tcp: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FriendlyError(errors.New(tt.raw))
			require.Equal(t, tt.wantKind, apperror.KindOf(err))
			require.Equal(t, tt.wantMsg, apperror.UserMessage(err))
		})
	}

	require.NoError(t, FriendlyError(nil))
}
