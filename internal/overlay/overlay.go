// Package overlay burns caption text into decoded frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Func renders an overlay for one frame. It must not modify src.
type Func func(src *image.RGBA, frame int, position float64) *image.RGBA

const (
	padding    = 4
	lineHeight = 15
)

var (
	DefaultColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	boxColor     = color.RGBA{A: 160}
)

// Draw returns a copy of src with lines written on a dark box in the top-left
// corner.
func Draw(src *image.RGBA, lines []string, fg color.Color) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	copy(dst.Pix, src.Pix)
	if len(lines) == 0 {
		return dst
	}
	if fg == nil {
		fg = DefaultColor
	}

	face := basicfont.Face7x13
	width := 0
	for _, l := range lines {
		if w := font.MeasureString(face, l).Ceil(); w > width {
			width = w
		}
	}
	box := image.Rect(b.Min.X, b.Min.Y, b.Min.X+width+2*padding, b.Min.Y+len(lines)*lineHeight+padding).Intersect(b)
	draw.Draw(dst, box, image.NewUniform(boxColor), image.Point{}, draw.Over)

	d := &font.Drawer{Dst: dst, Src: image.NewUniform(fg), Face: face}
	for i, l := range lines {
		d.Dot = fixed.P(b.Min.X+padding, b.Min.Y+(i+1)*lineHeight-2)
		d.DrawString(l)
	}
	return dst
}

// Clock formats seconds as h:mm:ss.
func Clock(sec float64) string {
	if sec < 0 || math.IsNaN(sec) {
		sec = 0
	}
	total := int(sec)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// EventCaption is the burned-in identifier for an event clip.
func EventCaption(eventType string, index int, at float64) string {
	return fmt.Sprintf("%s #%d, T=%s", eventType, index, Clock(at))
}

// ParseHexColor parses #rgb or #rrggbb.
func ParseHexColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// ColorOr parses s and falls back to def when it is empty or invalid.
func ColorOr(s string, def color.RGBA) color.RGBA {
	c, err := ParseHexColor(s)
	if err != nil {
		return def
	}
	return c
}
