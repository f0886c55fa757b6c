package report

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Card dimensions match the Open Graph image size.
const (
	CardWidth  = 1200
	CardHeight = 630
)

var (
	fontHeadline font.Face
	fontBody     font.Face
	fontOnce     sync.Once
	fontErr      error
)

func loadFonts() {
	fontOnce.Do(func() {
		bold, err := opentype.Parse(gobold.TTF)
		if err != nil {
			fontErr = fmt.Errorf("parse Go Bold: %w", err)
			return
		}
		fontHeadline, err = opentype.NewFace(bold, &opentype.FaceOptions{
			Size:    110,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			fontErr = fmt.Errorf("create headline face: %w", err)
			return
		}

		regular, err := opentype.Parse(goregular.TTF)
		if err != nil {
			fontErr = fmt.Errorf("parse Go Regular: %w", err)
			return
		}
		fontBody, err = opentype.NewFace(regular, &opentype.FaceOptions{
			Size:    36,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			fontErr = fmt.Errorf("create body face: %w", err)
		}
	})
}

// CardData is the headline content of a summary card.
type CardData struct {
	AnnualProduction float64 // kWh
	AreaM2           float64
	Coverage         float64 // production / consumption, 0 when unknown
	Location         string
}

// RenderSummaryCard draws a PNG card with the annual production headline.
func RenderSummaryCard(data CardData) ([]byte, error) {
	loadFonts()
	if fontErr != nil {
		return nil, fmt.Errorf("load fonts: %w", fontErr)
	}

	img := image.NewRGBA(image.Rect(0, 0, CardWidth, CardHeight))
	// Dusk-to-noon gradient.
	for y := 0; y < CardHeight; y++ {
		progress := float64(y) / float64(CardHeight)
		c := color.RGBA{
			R: uint8(250 - progress*180),
			G: uint8(170 - progress*110),
			B: uint8(40 + progress*60),
			A: 255,
		}
		for x := 0; x < CardWidth; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	white := color.RGBA{255, 255, 255, 255}
	soft := color.RGBA{255, 236, 210, 255}

	drawText(img, fmt.Sprintf("%s kWh", thousands(data.AnnualProduction)), 60, 250, white, fontHeadline)
	drawText(img, fmt.Sprintf("estimated yearly yield from %g m² of panels", data.AreaM2), 60, 330, soft, fontBody)
	if data.Coverage > 0 {
		drawText(img, fmt.Sprintf("covers %.0f%% of recorded consumption", data.Coverage*100), 60, 390, soft, fontBody)
	}
	if data.Location != "" {
		drawText(img, data.Location, 60, CardHeight-50, soft, fontBody)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode summary card: %w", err)
	}
	return buf.Bytes(), nil
}

func drawText(img *image.RGBA, text string, x, y int, col color.Color, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// thousands rounds v to whole units with comma separators.
func thousands(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}
