package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	// totpPeriod is the RFC 6238 time-step size in seconds.
	totpPeriod = 30
	// secretBytes is the raw secret length: 160 bits per RFC 4226.
	secretBytes = 20
	codeDigits  = 6
)

// b32 matches the encoding authenticator apps expect: base32, no padding.
var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTPManager is the stateless HOTP/TOTP core. It computes and verifies
// codes and builds provisioning material; it holds no session state and
// performs no I/O. Replay enforcement belongs to callers, which compare
// the matched step against the profile's last consumed step.
type TOTPManager struct {
	issuer string
}

// NewTOTPManager creates a TOTP manager. issuer appears in provisioning
// URIs and in the authenticator app's account list.
func NewTOTPManager(issuer string) (*TOTPManager, error) {
	if issuer == "" {
		return nil, fmt.Errorf("issuer must not be empty")
	}
	return &TOTPManager{issuer: issuer}, nil
}

// GenerateSecret returns a fresh 160-bit secret, base32-encoded without
// padding.
func (tm *TOTPManager) GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	return b32.EncodeToString(raw), nil
}

// HOTP computes the RFC 4226 code for the given counter: HMAC-SHA1 over
// the 8-byte big-endian counter, dynamic truncation, 6 digits.
func (tm *TOTPManager) HOTP(secret string, counter uint64) (string, error) {
	code, err := hotp.GenerateCodeCustom(secret, counter, hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to compute HOTP: %w", err)
	}
	return code, nil
}

// CurrentStep returns the TOTP time-step index at now.
func (tm *TOTPManager) CurrentStep(now time.Time) int64 {
	return now.Unix() / totpPeriod
}

// VerifyCode checks code against the steps in
// [CurrentStep(now)-window, CurrentStep(now)+window], ascending, and
// returns the first matching step. window=1 tolerates ±30s of clock
// drift. Input that is not exactly six ASCII digits fails fast without
// any HMAC evaluation.
func (tm *TOTPManager) VerifyCode(secret, code string, now time.Time, window int) (bool, int64) {
	if !isSixDigits(code) {
		return false, 0
	}

	cur := tm.CurrentStep(now)
	for step := cur - int64(window); step <= cur+int64(window); step++ {
		if step < 0 {
			continue
		}
		expected, err := tm.HOTP(secret, uint64(step))
		if err != nil {
			return false, 0
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true, step
		}
	}
	return false, 0
}

// ProvisioningURI builds the otpauth:// enrollment URI for the secret
// with issuer, account label, algorithm=SHA1, digits=6, period=30.
func (tm *TOTPManager) ProvisioningURI(secret, accountName string) (string, error) {
	raw, err := b32.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("invalid TOTP secret: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		Secret:      raw,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build provisioning URI: %w", err)
	}
	return key.URL(), nil
}

// ProvisioningQR renders a provisioning URI as a PNG data URL for the
// enrollment UI.
func (tm *TOTPManager) ProvisioningQR(uri string) (string, error) {
	qr, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(200)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

func isSixDigits(s string) bool {
	if len(s) != codeDigits {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
