// Package annotate draws detection boxes and labels onto frames.
package annotate

import (
	"fmt"
	"hash/fnv"
	"image"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"ringside/internal/pipeline"
)

// Origin says what a detection's (x, y) point refers to
type Origin string

const (
	// OriginCenter treats (x, y) as the box center, as hosted detect APIs report it
	OriginCenter Origin = "center"
	// OriginCorner treats (x, y) as the top-left corner
	OriginCorner Origin = "corner"
)

// ParseOrigin validates a configured origin name
func ParseOrigin(s string) (Origin, error) {
	switch Origin(s) {
	case OriginCenter, "":
		return OriginCenter, nil
	case OriginCorner:
		return OriginCorner, nil
	default:
		return "", fmt.Errorf("unknown box origin %q (valid: center, corner)", s)
	}
}

// Config holds drawing options
type Config struct {
	Origin    Origin
	LineWidth float64
	FontSize  float64
}

// Annotator renders detections. It holds no per-frame state and is safe
// for concurrent use.
type Annotator struct {
	origin    Origin
	lineWidth float64
	fontSize  float64
	font      *truetype.Font
}

// New creates an annotator
func New(cfg Config) (*Annotator, error) {
	origin, err := ParseOrigin(string(cfg.Origin))
	if err != nil {
		return nil, err
	}

	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse label font: %w", err)
	}

	a := &Annotator{
		origin:    origin,
		lineWidth: cfg.LineWidth,
		fontSize:  cfg.FontSize,
		font:      f,
	}
	if a.lineWidth <= 0 {
		a.lineWidth = 2
	}
	if a.fontSize <= 0 {
		a.fontSize = 14
	}
	return a, nil
}

// Rect returns the box corners (x0, y0) and (x1, y1) before clipping
func Rect(box pipeline.Box, origin Origin) (x0, y0, x1, y1 float64) {
	if origin == OriginCorner {
		return box.X, box.Y, box.X + box.Width, box.Y + box.Height
	}
	return box.X - box.Width/2, box.Y - box.Height/2, box.X + box.Width/2, box.Y + box.Height/2
}

// Clip limits a rectangle to a w x h frame. ok is false when nothing of
// the rectangle is left inside the frame.
func Clip(x0, y0, x1, y1 float64, w, h int) (cx0, cy0, cx1, cy1 float64, ok bool) {
	fw, fh := float64(w), float64(h)
	if x1 <= 0 || y1 <= 0 || x0 >= fw || y0 >= fh {
		return 0, 0, 0, 0, false
	}
	return math.Max(x0, 0), math.Max(y0, 0), math.Min(x1, fw), math.Min(y1, fh), true
}

// Annotate implements pipeline.Annotator. The input image is not modified.
func (a *Annotator) Annotate(img image.Image, detections pipeline.DetectionSet) pipeline.Annotation {
	dc := gg.NewContextForImage(img)
	result := pipeline.Annotation{}

	if len(detections) == 0 {
		result.Image = dc.Image()
		return result
	}

	// Faces cache glyphs and must not be shared between goroutines
	face := truetype.NewFace(a.font, &truetype.Options{Size: a.fontSize, Hinting: font.HintingFull})
	defer face.Close()
	dc.SetFontFace(face)

	for i, d := range detections {
		box, err := d.Box()
		if err != nil {
			result.Skipped = append(result.Skipped, pipeline.SkippedDetection{Index: i, Reason: err})
			continue
		}

		x0, y0, x1, y1 := Rect(box, a.origin)
		x0, y0, x1, y1, ok := Clip(x0, y0, x1, y1, dc.Width(), dc.Height())
		if !ok {
			result.Skipped = append(result.Skipped, pipeline.SkippedDetection{
				Index:  i,
				Reason: fmt.Errorf("%w: %s at (%g, %g)", pipeline.ErrOutOfFrame, d.Label(), box.X, box.Y),
			})
			continue
		}

		col := classColor(d.Label())
		dc.SetColor(col)
		dc.SetLineWidth(a.lineWidth)
		dc.DrawRectangle(x0, y0, x1-x0, y1-y0)
		dc.Stroke()

		a.drawLabel(dc, fmt.Sprintf("%s %.2f", d.Label(), box.Confidence), x0, y0, col)
		result.Drawn++
	}

	result.Image = dc.Image()
	return result
}

// drawLabel places the label above the box, or inside its top edge when
// there is no room above.
func (a *Annotator) drawLabel(dc *gg.Context, text string, x0, y0 float64, bg colorful.Color) {
	const pad = 3.0

	tw, th := dc.MeasureString(text)
	lw, lh := tw+2*pad, th+2*pad

	top := y0 - lh
	if top < 0 {
		top = y0
	}
	left := x0
	if left+lw > float64(dc.Width()) {
		left = math.Max(float64(dc.Width())-lw, 0)
	}

	dc.SetColor(bg)
	dc.DrawRectangle(left, top, lw, lh)
	dc.Fill()

	// Dark text on light backgrounds
	l, _, _ := bg.Lab()
	if l > 0.7 {
		dc.SetRGB(0, 0, 0)
	} else {
		dc.SetRGB(1, 1, 1)
	}
	dc.DrawStringAnchored(text, left+pad, top+pad, 0, 1)
}

// classColor gives each class a stable, saturated hue
func classColor(class string) colorful.Color {
	h := fnv.New32a()
	h.Write([]byte(class))
	hue := float64(h.Sum32() % 360)
	return colorful.Hsv(hue, 0.85, 0.95)
}

var _ pipeline.Annotator = (*Annotator)(nil)
