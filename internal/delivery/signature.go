package delivery

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/crypto/blake2b"

	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
)

const maxSignatureBytes = 512 * 1024

var signatureImageTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

// Signature is a buyer's handwritten signature captured at hand-off.
type Signature struct {
	SignerName string
	Image      string
	MIMEType   string
	Digest     string
}

// ParseSignature accepts either a data URL or bare base64 and returns the payload with a blake2b
// digest of the decoded bytes. With strict set, the bytes must sniff as a raster image.
func ParseSignature(signerName, payload string, strict bool) (*Signature, error) {
	signerName = strings.TrimSpace(signerName)
	payload = strings.TrimSpace(payload)
	if signerName == "" || payload == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "signer name and signature image are required").
			WithReason(pkgerrors.ReasonMissingSignature)
	}

	encoded := payload
	if strings.HasPrefix(encoded, "data:") {
		comma := strings.IndexByte(encoded, ',')
		if comma < 0 || !strings.Contains(encoded[:comma], ";base64") {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "signature data url must be base64 encoded")
		}
		encoded = encoded[comma+1:]
	}
	raw, err := decodeBase64(encoded)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "signature image is not valid base64")
	}
	if len(raw) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "signature image is empty").
			WithReason(pkgerrors.ReasonMissingSignature)
	}
	if len(raw) > maxSignatureBytes {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "signature image is too large")
	}

	detected := mimetype.Detect(raw)
	if strict && !isSignatureImage(detected) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "signature image must be png, jpeg, gif or webp").
			WithDetails(map[string]string{"detected": detected.String()})
	}

	sum := blake2b.Sum256(raw)
	return &Signature{
		SignerName: signerName,
		Image:      payload,
		MIMEType:   detected.String(),
		Digest:     hex.EncodeToString(sum[:]),
	}, nil
}

func isSignatureImage(m *mimetype.MIME) bool {
	for _, allowed := range signatureImageTypes {
		if m.Is(allowed) {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	value = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' {
			return -1
		}
		return r
	}, value)
	if raw, err := base64.StdEncoding.DecodeString(value); err == nil {
		return raw, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(value, "="))
}
