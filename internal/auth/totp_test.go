package auth

import (
	"encoding/base32"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rfcSecret is the RFC 4226 Appendix D test secret ("12345678901234567890").
var rfcSecret = base32.StdEncoding.WithPadding(base32.NoPadding).
	EncodeToString([]byte("12345678901234567890"))

func newManager(t *testing.T) *TOTPManager {
	t.Helper()
	tm, err := NewTOTPManager("Openclave")
	require.NoError(t, err)
	return tm
}

func TestNewTOTPManager_EmptyIssuer(t *testing.T) {
	tm, err := NewTOTPManager("")
	assert.Error(t, err)
	assert.Nil(t, tm)
}

// ============================================================================
// Secret generation
// ============================================================================

func TestTOTPManager_GenerateSecret(t *testing.T) {
	tm := newManager(t)

	secret, err := tm.GenerateSecret()
	require.NoError(t, err)

	// 160 bits -> 32 base32 characters, no padding
	assert.Len(t, secret, 32)
	assert.NotContains(t, secret, "=")

	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	require.NoError(t, err)
	assert.Len(t, raw, 20)
}

func TestTOTPManager_GenerateSecret_Unique(t *testing.T) {
	tm := newManager(t)

	a, err := tm.GenerateSecret()
	require.NoError(t, err)
	b, err := tm.GenerateSecret()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

// ============================================================================
// HOTP — RFC 4226 Appendix D reference values
// ============================================================================

func TestTOTPManager_HOTP_RFC4226Vectors(t *testing.T) {
	tm := newManager(t)

	expected := []string{
		"755224", "287082", "359152", "969429", "338314",
		"254676", "287922", "162583", "399871", "520489",
	}

	for counter, want := range expected {
		code, err := tm.HOTP(rfcSecret, uint64(counter))
		require.NoError(t, err)
		assert.Equal(t, want, code, "counter %d", counter)
	}
}

func TestTOTPManager_HOTP_InvalidSecret(t *testing.T) {
	tm := newManager(t)

	_, err := tm.HOTP("not base32!!", 0)
	assert.Error(t, err)
}

// ============================================================================
// Time steps
// ============================================================================

func TestTOTPManager_CurrentStep(t *testing.T) {
	tm := newManager(t)

	assert.Equal(t, int64(0), tm.CurrentStep(time.Unix(0, 0)))
	assert.Equal(t, int64(0), tm.CurrentStep(time.Unix(29, 0)))
	assert.Equal(t, int64(1), tm.CurrentStep(time.Unix(30, 0)))
	assert.Equal(t, int64(1), tm.CurrentStep(time.Unix(59, 0)))
	// RFC 6238 Appendix B: 2005-03-18 01:58:29 UTC -> step 0x23523EC
	assert.Equal(t, int64(0x23523EC), tm.CurrentStep(time.Unix(1111111109, 0)))
}

// ============================================================================
// Windowed verification
// ============================================================================

func TestTOTPManager_VerifyCode_CurrentStep(t *testing.T) {
	tm := newManager(t)
	now := time.Unix(1111111109, 0)

	code, err := tm.HOTP(rfcSecret, uint64(tm.CurrentStep(now)))
	require.NoError(t, err)

	ok, step := tm.VerifyCode(rfcSecret, code, now, 1)
	assert.True(t, ok)
	assert.Equal(t, tm.CurrentStep(now), step)
}

func TestTOTPManager_VerifyCode_DriftWithinWindow(t *testing.T) {
	tm := newManager(t)
	now := time.Unix(1111111109, 0)

	// A code generated 30 seconds ago is still accepted
	past, err := tm.HOTP(rfcSecret, uint64(tm.CurrentStep(now.Add(-30*time.Second))))
	require.NoError(t, err)
	ok, step := tm.VerifyCode(rfcSecret, past, now, 1)
	assert.True(t, ok)
	assert.Equal(t, tm.CurrentStep(now)-1, step)

	// So is one generated 30 seconds ahead
	future, err := tm.HOTP(rfcSecret, uint64(tm.CurrentStep(now.Add(30*time.Second))))
	require.NoError(t, err)
	ok, step = tm.VerifyCode(rfcSecret, future, now, 1)
	assert.True(t, ok)
	assert.Equal(t, tm.CurrentStep(now)+1, step)
}

func TestTOTPManager_VerifyCode_DriftOutsideWindow(t *testing.T) {
	tm := newManager(t)
	now := time.Unix(1111111109, 0)

	stale, err := tm.HOTP(rfcSecret, uint64(tm.CurrentStep(now.Add(-90*time.Second))))
	require.NoError(t, err)

	ok, _ := tm.VerifyCode(rfcSecret, stale, now, 1)
	assert.False(t, ok)
}

func TestTOTPManager_VerifyCode_MalformedInput(t *testing.T) {
	tm := newManager(t)
	now := time.Now()

	for _, code := range []string{"", "12345", "1234567", "12345a", "12 456", "......"} {
		ok, step := tm.VerifyCode(rfcSecret, code, now, 1)
		assert.False(t, ok, "code %q", code)
		assert.Zero(t, step)
	}
}

func TestTOTPManager_VerifyCode_AscendingFirstMatch(t *testing.T) {
	tm := newManager(t)
	now := time.Unix(1111111109, 0)

	// The earliest step in the window wins when codes collide with it
	earliest, err := tm.HOTP(rfcSecret, uint64(tm.CurrentStep(now)-1))
	require.NoError(t, err)

	ok, step := tm.VerifyCode(rfcSecret, earliest, now, 1)
	require.True(t, ok)
	assert.Equal(t, tm.CurrentStep(now)-1, step)
}

// ============================================================================
// Provisioning
// ============================================================================

func TestTOTPManager_ProvisioningURI(t *testing.T) {
	tm := newManager(t)

	uri, err := tm.ProvisioningURI(rfcSecret, "user@example.com")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/"), uri)
	assert.Contains(t, uri, "secret="+rfcSecret)
	assert.Contains(t, uri, "issuer=Openclave")
	assert.Contains(t, uri, "algorithm=SHA1")
	assert.Contains(t, uri, "digits=6")
	assert.Contains(t, uri, "period=30")
}

func TestTOTPManager_ProvisioningURI_BadSecret(t *testing.T) {
	tm := newManager(t)

	_, err := tm.ProvisioningURI("not base32!!", "user@example.com")
	assert.Error(t, err)
}

func TestTOTPManager_ProvisioningQR(t *testing.T) {
	tm := newManager(t)

	uri, err := tm.ProvisioningURI(rfcSecret, "user@example.com")
	require.NoError(t, err)

	dataURL, err := tm.ProvisioningQR(uri)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dataURL, "data:image/png;base64,"))

	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, "data:image/png;base64,"))
	require.NoError(t, err)
	require.Greater(t, len(png), 4)

	// PNG signature
	assert.Equal(t, []byte{137, 80, 78, 71}, png[:4])
}
