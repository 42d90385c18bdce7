package services

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/digitorus/pdf"
	"go.uber.org/zap"
)

var (
	ErrAnchorNotFound  = errors.New("anchor marker not found")
	ErrAnchorAmbiguous = errors.New("anchor marker found more than once")
)

// StampPlacement is a resolved position for a visual stamp: a 1-based page
// number and a box in PDF user-space coordinates.
type StampPlacement struct {
	Page        uint32
	LowerLeftX  float64
	LowerLeftY  float64
	UpperRightX float64
	UpperRightY float64
}

// AnchorService locates per-signer text markers in the page content of a
// PDF. Documents are generated upstream with one marker per signer; the
// marker's position decides where that signer's stamp lands.
type AnchorService struct {
	logger *zap.Logger
}

func NewAnchorService(logger *zap.Logger) *AnchorService {
	return &AnchorService{
		logger: logger.With(zap.String("service", "anchor_service")),
	}
}

const (
	stampBoxWidth  = 150.0
	stampBoxHeight = 130.0
)

// FindMarker searches every page for the marker string. Exactly one
// occurrence is required: zero returns ErrAnchorNotFound, more than one
// returns ErrAnchorAmbiguous since there is no safe way to pick.
func (as *AnchorService) FindMarker(pdfBytes []byte, marker string) (*StampPlacement, error) {
	rdr, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	var found *StampPlacement
	for pageNum := 1; pageNum <= rdr.NumPage(); pageNum++ {
		page := rdr.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		placements := markerPositions(page.Content().Text, marker, uint32(pageNum))
		for _, p := range placements {
			if found != nil {
				as.logger.Error("Anchor marker is ambiguous",
					zap.String("marker", marker),
					zap.Uint32("first_page", found.Page),
					zap.Uint32("second_page", p.Page),
				)
				return nil, ErrAnchorAmbiguous
			}
			placement := p
			found = &placement
		}
	}

	if found == nil {
		return nil, ErrAnchorNotFound
	}

	as.logger.Info("Anchor marker located",
		zap.String("marker", marker),
		zap.Uint32("page", found.Page),
		zap.Float64("x", found.LowerLeftX),
		zap.Float64("y", found.LowerLeftY),
	)
	return found, nil
}

// markerPositions scans the extracted text items of one page. Markers can
// be split across several text runs, so matching happens on the
// concatenated page text with run offsets tracked alongside.
func markerPositions(texts []pdf.Text, marker string, pageNum uint32) []StampPlacement {
	var sb strings.Builder
	offsets := make([]int, len(texts))
	for i, t := range texts {
		offsets[i] = sb.Len()
		sb.WriteString(t.S)
	}
	pageText := sb.String()

	var placements []StampPlacement
	from := 0
	for {
		idx := strings.Index(pageText[from:], marker)
		if idx < 0 {
			break
		}
		abs := from + idx

		// Find the text run holding the first byte of the match.
		run := 0
		for i := range offsets {
			if offsets[i] > abs {
				break
			}
			run = i
		}

		anchor := texts[run]
		placements = append(placements, StampPlacement{
			Page:        pageNum,
			LowerLeftX:  anchor.X,
			LowerLeftY:  anchor.Y - stampBoxHeight + anchor.FontSize,
			UpperRightX: anchor.X + stampBoxWidth,
			UpperRightY: anchor.Y + anchor.FontSize,
		})

		from = abs + len(marker)
	}
	return placements
}
