package services_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hestia-immo/parapheur/internal/services"
)

func TestComposeStampTextOnly(t *testing.T) {
	cfg := newTestConfig(t, t.TempDir())
	stamps := services.NewStampService(cfg, zap.NewNop())

	out, err := stamps.ComposeStamp(nil, "Alice Martin", "alice@example.com", time.Now())
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Greater(t, img.Bounds().Dx(), 100)
	require.Greater(t, img.Bounds().Dy(), 30)
}

func TestComposeStampWithSignatureImage(t *testing.T) {
	cfg := newTestConfig(t, t.TempDir())
	stamps := services.NewStampService(cfg, zap.NewNop())

	sig := image.NewRGBA(image.Rect(0, 0, 200, 80))
	for x := 0; x < 200; x++ {
		sig.Set(x, 40, color.Black)
	}
	var sigPNG bytes.Buffer
	require.NoError(t, png.Encode(&sigPNG, sig))

	out, err := stamps.ComposeStamp(sigPNG.Bytes(), "Alice Martin", "alice@example.com", time.Now())
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.GreaterOrEqual(t, img.Bounds().Dx(), 200)
	require.Greater(t, img.Bounds().Dy(), 80)
}

func TestComposeStampRejectsBadImage(t *testing.T) {
	cfg := newTestConfig(t, t.TempDir())
	stamps := services.NewStampService(cfg, zap.NewNop())

	_, err := stamps.ComposeStamp([]byte("not a png"), "Alice Martin", "alice@example.com", time.Now())
	require.Error(t, err)
}
