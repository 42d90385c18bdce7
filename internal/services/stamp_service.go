package services

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/hestia-immo/parapheur/internal/config"
)

// StampService composes the visual signature stamp: the signer's
// handwritten signature image (when provided) with the identity line, the
// local signing time and the compliance caption drawn underneath.
type StampService struct {
	logger   *zap.Logger
	caption  string
	location *time.Location
}

func NewStampService(cfg *config.Configuration, logger *zap.Logger) *StampService {
	loc, err := time.LoadLocation(cfg.Signing.TimeZone)
	if err != nil {
		logger.Warn("Unknown stamp time zone, falling back to UTC",
			zap.String("time_zone", cfg.Signing.TimeZone), zap.Error(err))
		loc = time.UTC
	}

	return &StampService{
		logger:   logger.With(zap.String("service", "stamp_service")),
		caption:  cfg.Signing.ComplianceCaption,
		location: loc,
	}
}

const (
	stampPadding     = 10
	stampLineSpacing = 4
)

// ComposeStamp renders the stamp PNG. signatureImage may be nil, in which
// case only the text block is rendered.
func (ss *StampService) ComposeStamp(signatureImage []byte, name, email string, at time.Time) ([]byte, error) {
	lines := []string{
		fmt.Sprintf("%s - %s", name, email),
		at.In(ss.location).Format("02/01/2006 15:04:05"),
		ss.caption,
	}

	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil() + stampLineSpacing

	textWidth := 0
	for _, line := range lines {
		if w := font.MeasureString(face, line).Ceil(); w > textWidth {
			textWidth = w
		}
	}
	textHeight := lineHeight * len(lines)

	var sigImg image.Image
	sigWidth, sigHeight := 0, 0
	if len(signatureImage) > 0 {
		decoded, err := png.Decode(bytes.NewReader(signatureImage))
		if err != nil {
			return nil, fmt.Errorf("failed to decode signature image: %w", err)
		}
		sigImg = decoded
		sigWidth = decoded.Bounds().Dx()
		sigHeight = decoded.Bounds().Dy()
	}

	width := textWidth + 2*stampPadding
	if sigWidth > width {
		width = sigWidth
	}
	height := sigHeight + textHeight + 2*stampPadding

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))

	if sigImg != nil {
		draw.Draw(canvas, image.Rect(0, 0, sigWidth, sigHeight), sigImg, sigImg.Bounds().Min, draw.Over)
	}

	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.Black,
		Face: face,
	}
	y := sigHeight + stampPadding + face.Metrics().Ascent.Ceil()
	for _, line := range lines {
		drawer.Dot = fixed.P(stampPadding, y)
		drawer.DrawString(line)
		y += lineHeight
	}

	var out bytes.Buffer
	if err := png.Encode(&out, canvas); err != nil {
		return nil, fmt.Errorf("failed to encode stamp: %w", err)
	}
	return out.Bytes(), nil
}
