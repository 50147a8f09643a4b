package delivery

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
)

func TestParseSignatureAcceptsRasterFormats(t *testing.T) {
	gif := base64.StdEncoding.EncodeToString(append([]byte("GIF89a"), make([]byte, 16)...))
	jpeg := base64.StdEncoding.EncodeToString(append([]byte{0xff, 0xd8, 0xff, 0xe0}, make([]byte, 16)...))

	for name, payload := range map[string]string{"png data url": pngSignature, "bare gif": gif, "bare jpeg": jpeg} {
		t.Run(name, func(t *testing.T) {
			sig, err := ParseSignature("Ada", payload, true)
			require.NoError(t, err)
			assert.Len(t, sig.Digest, 64)
			assert.Equal(t, payload, sig.Image)
		})
	}
}

func TestParseSignatureDigestIsStable(t *testing.T) {
	a, err := ParseSignature("Ada", pngSignature, true)
	require.NoError(t, err)
	b, err := ParseSignature("Someone else", pngSignature, true)
	require.NoError(t, err)
	assert.Equal(t, a.Digest, b.Digest)
}

func TestParseSignatureRejects(t *testing.T) {
	text := base64.StdEncoding.EncodeToString([]byte("hello"))

	_, err := ParseSignature("", pngSignature, true)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonMissingSignature))

	_, err = ParseSignature("Ada", "   ", true)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonMissingSignature))

	_, err = ParseSignature("Ada", "data:image/png,notbase64", true)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ParseSignature("Ada", "!!!", true)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ParseSignature("Ada", text, true)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	sig, err := ParseSignature("Ada", text, false)
	require.NoError(t, err, "non-strict mode only needs decodable bytes")
	assert.Equal(t, "text/plain; charset=utf-8", sig.MIMEType)
}
