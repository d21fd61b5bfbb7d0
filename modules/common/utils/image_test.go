package utils

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dream-canvas-server/modules/common/apperror"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func TestBuildAndParseDataURI(t *testing.T) {
	uri := BuildDataURI("", pngHeader)
	require.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))

	mime, data, err := ParseDataURI(uri)
	require.NoError(t, err)
	require.Equal(t, "image/png", mime)
	require.Equal(t, pngHeader, data)

	_, _, err = ParseDataURI("https://example.com/a.png")
	require.Error(t, err)
}

func TestValidateUpload(t *testing.T) {
	small := base64.StdEncoding.EncodeToString([]byte("fake-jpeg-bytes"))
	exact := base64.StdEncoding.EncodeToString(make([]byte, MaxUploadBytes))
	tooBig := base64.StdEncoding.EncodeToString(make([]byte, MaxUploadBytes+1))

	tests := []struct {
		name    string
		uri     string
		wantErr bool
	}{
		{name: "jpeg", uri: "data:image/jpeg;base64," + small},
		{name: "jpg alias", uri: "data:image/jpg;base64," + small},
		{name: "png upper case", uri: "data:IMAGE/PNG;base64," + small},
		{name: "webp", uri: "data:image/webp;base64," + small},
		{name: "exactly 10MiB", uri: "data:image/png;base64," + exact},
		{name: "gif rejected", uri: "data:image/gif;base64," + small, wantErr: true},
		{name: "over 10MiB", uri: "data:image/png;base64," + tooBig, wantErr: true},
		{name: "not a data uri", uri: "/tmp/cat.png", wantErr: true},
		{name: "not base64", uri: "data:image/png,rawbytes", wantErr: true},
		{name: "corrupt payload", uri: "data:image/png;base64,@@@", wantErr: true},
		{name: "empty payload", uri: "data:image/png;base64,", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ValidateUpload(tt.uri)
			if tt.wantErr {
				require.True(t, apperror.Is(err, apperror.KindValidation), "got %v", err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestExtensionForMIME(t *testing.T) {
	require.Equal(t, "jpg", ExtensionForMIME("image/jpeg"))
	require.Equal(t, "webp", ExtensionForMIME("image/webp"))
	require.Equal(t, "png", ExtensionForMIME("image/png"))
	require.Equal(t, "png", ExtensionForMIME("application/octet-stream"))
}
