package hierarchy

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ErrUndecodableImage is returned when the screenshot cannot be decoded.
var ErrUndecodableImage = errors.New("undecodable screenshot")

var boxPalette = []color.RGBA{
	{R: 230, G: 25, B: 75, A: 255},
	{R: 60, G: 180, B: 75, A: 255},
	{R: 0, G: 130, B: 200, A: 255},
	{R: 245, G: 130, B: 48, A: 255},
	{R: 145, G: 30, B: 180, A: 255},
	{R: 0, G: 128, B: 128, A: 255},
}

// Annotate draws numbered boxes over the interactive elements that
// ToElementList enumerates with the same options. The returned PNG is only
// used for visual grounding; callers persist the original image.
func Annotate(img []byte, p *Parsed, opts ListOptions) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableImage, err)
	}

	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)

	sx, sy := 1.0, 1.0
	if p != nil && p.ScreenBounds != nil && p.ScreenBounds.Width > 0 && p.ScreenBounds.Height > 0 {
		sx = float64(b.Dx()) / float64(p.ScreenBounds.Width)
		sy = float64(b.Dy()) / float64(p.ScreenBounds.Height)
	}
	thickness := max(2, b.Dx()/400)

	for i, el := range Select(p, opts) {
		if el.Kind != KindInteractive || el.Bounds == nil {
			continue
		}
		c := boxPalette[i%len(boxPalette)]
		r := image.Rect(
			b.Min.X+int(float64(el.Bounds.X)*sx),
			b.Min.Y+int(float64(el.Bounds.Y)*sy),
			b.Min.X+int(float64(el.Bounds.X+el.Bounds.Width)*sx),
			b.Min.Y+int(float64(el.Bounds.Y+el.Bounds.Height)*sy),
		).Intersect(b)
		if r.Empty() {
			continue
		}
		strokeRect(dst, r, c, thickness)
		drawLabel(dst, r.Min, strconv.Itoa(el.ID), c)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode annotated image: %w", err)
	}
	return buf.Bytes(), nil
}

func strokeRect(dst *image.RGBA, r image.Rectangle, c color.Color, t int) {
	fill := image.NewUniform(c)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, min(r.Min.Y+t, r.Max.Y)), fill, image.Point{}, draw.Over)
	draw.Draw(dst, image.Rect(r.Min.X, max(r.Max.Y-t, r.Min.Y), r.Max.X, r.Max.Y), fill, image.Point{}, draw.Over)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, min(r.Min.X+t, r.Max.X), r.Max.Y), fill, image.Point{}, draw.Over)
	draw.Draw(dst, image.Rect(max(r.Max.X-t, r.Min.X), r.Min.Y, r.Max.X, r.Max.Y), fill, image.Point{}, draw.Over)
}

func drawLabel(dst *image.RGBA, at image.Point, text string, bg color.Color) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil() + 4
	h := face.Height + 2
	box := image.Rect(at.X, at.Y, at.X+w, at.Y+h).Intersect(dst.Bounds())
	if box.Empty() {
		return
	}
	draw.Draw(dst, box, image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(box.Min.X+2, box.Min.Y+face.Ascent+1),
	}
	d.DrawString(text)
}
