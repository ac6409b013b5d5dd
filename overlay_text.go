// overlay_text.go - RGBA frame composition primitives for the overlay

/*
▄▄▄█████▓▓█████  ███▄ ▄███▓ ██▓███    ██████ ▓█████  ███▄    █   ██████ ▓█████
▓  ██▒ ▓▒▓█   ▀ ▓██▒▀█▀ ██▒▓██░  ██▒▒██    ▒ ▓█   ▀  ██ ▀█   █ ▒██    ▒ ▓█   ▀
▒ ▓██░ ▒░▒███   ▓██    ▓██░▓██░ ██▓▒░ ▓██▄   ▒███   ▓██  ▀█ ██▒░ ▓██▄   ▒███
░ ▓██▓ ░ ▒▓█  ▄ ▒██    ▒██ ▒██▄█▓▒ ▒  ▒   ██▒▒▓█  ▄ ▓██▒  ▐▌██▒  ▒   ██▒▒▓█  ▄
  ▒██▒ ░ ░▒████▒▒██▒   ░██▒▒██▒ ░  ░▒██████▒▒░▒████▒▒██░   ▓██░▒██████▒▒░▒████▒
  ▒ ░░   ░░ ▒░ ░░ ▒░   ░  ░▒▓▒░ ░  ░▒ ▒▓▒ ▒ ░░░ ▒░ ░░ ▒░   ▒ ▒ ▒ ▒▓▒ ▒ ░░░ ▒░ ░
    ░     ░ ░  ░░  ░      ░░▒ ░     ░ ░▒  ░ ░ ░ ░  ░░ ░░   ░ ▒░░ ░▒  ░ ░ ░ ░  ░
  ░         ░   ░      ░   ░░       ░  ░  ░     ░      ░   ░ ░ ░  ░  ░     ░
            ░  ░       ░                  ░     ░  ░         ░       ░     ░  ░

(c) 2024 - 2026 Zayn Otley
https://github.com/TempSenseVR/TempSense-GUI
License: GPLv3 or later
*/

package main

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// overlayFace is the one face the overlay uses. 7x13 at integer scales keeps
// every glyph on the pixel grid with no font assets to ship.
var overlayFace = basicfont.Face7x13

const (
	glyphWidth    = 7
	glyphHeight   = 13
	glyphBaseline = 11 // Rows from glyph top to the 7x13 baseline
)

// overlayCanvas wraps one RGBA frame buffer for composition. The buffer is
// owned by the renderer and reused across ticks.
type overlayCanvas struct {
	img *image.RGBA
}

func newOverlayCanvas(width, height int) *overlayCanvas {
	return &overlayCanvas{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

func (c *overlayCanvas) Width() int  { return c.img.Rect.Dx() }
func (c *overlayCanvas) Height() int { return c.img.Rect.Dy() }

// Pixels returns the raw RGBA bytes backing the canvas.
func (c *overlayCanvas) Pixels() []byte {
	return c.img.Pix
}

// Fill floods the whole canvas with one colour.
func (c *overlayCanvas) Fill(col color.RGBA) {
	draw.Draw(c.img, c.img.Rect, image.NewUniform(col), image.Point{}, draw.Src)
}

// FillRect paints an axis-aligned rectangle, clipped to the canvas.
func (c *overlayCanvas) FillRect(x, y, w, h int, col color.RGBA) {
	r := image.Rect(x, y, x+w, y+h).Intersect(c.img.Rect)
	if r.Empty() {
		return
	}
	draw.Draw(c.img, r, image.NewUniform(col), image.Point{}, draw.Src)
}

// StrokeRect draws a one pixel border.
func (c *overlayCanvas) StrokeRect(x, y, w, h int, col color.RGBA) {
	c.FillRect(x, y, w, 1, col)
	c.FillRect(x, y+h-1, w, 1, col)
	c.FillRect(x, y, 1, h, col)
	c.FillRect(x+w-1, y, 1, h, col)
}

// asciiFold maps runes the 7x13 face cannot draw onto ASCII stand-ins, so
// "°C" keeps its width instead of silently losing a glyph. The face covers
// 0x20..0x7e only.
func asciiFold(s string) string {
	folded := false
	for _, r := range s {
		if r < 0x20 || r > 0x7e {
			folded = true
			break
		}
	}
	if !folded {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '°':
			b.WriteByte('\'')
		case r < 0x20 || r > 0x7e:
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DrawText renders s with the top-left corner at (x, y).
func (c *overlayCanvas) DrawText(x, y int, s string, col color.RGBA) {
	s = asciiFold(s)
	d := font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: overlayFace,
		Dot:  fixed.P(x, y+glyphBaseline),
	}
	d.DrawString(s)
}

// DrawTextScaled renders s at an integer scale by drawing at 1x into a
// scratch image and replicating pixels. Nearest-neighbour keeps the 7x13
// glyphs crisp.
func (c *overlayCanvas) DrawTextScaled(x, y int, s string, col color.RGBA, scale int) {
	s = asciiFold(s)
	if scale <= 1 {
		c.DrawText(x, y, s, col)
		return
	}
	w := TextWidth(s)
	if w == 0 {
		return
	}
	scratch := image.NewRGBA(image.Rect(0, 0, w, glyphHeight))
	d := font.Drawer{
		Dst:  scratch,
		Src:  image.NewUniform(col),
		Face: overlayFace,
		Dot:  fixed.P(0, glyphBaseline),
	}
	d.DrawString(s)

	bounds := c.img.Rect
	for sy := 0; sy < glyphHeight; sy++ {
		for sx := 0; sx < w; sx++ {
			_, _, _, a := scratch.At(sx, sy).RGBA()
			if a == 0 {
				continue
			}
			dstX := x + sx*scale
			dstY := y + sy*scale
			r := image.Rect(dstX, dstY, dstX+scale, dstY+scale).Intersect(bounds)
			if !r.Empty() {
				draw.Draw(c.img, r, image.NewUniform(col), image.Point{}, draw.Src)
			}
		}
	}
}

// TextWidth returns the pixel width of s at 1x.
func TextWidth(s string) int {
	return font.MeasureString(overlayFace, asciiFold(s)).Ceil()
}

// Overlay palette. Dim variants carry the stale look.
var (
	colBackground = color.RGBA{16, 16, 24, 255}
	colPanel      = color.RGBA{28, 28, 40, 255}
	colPanelEdge  = color.RGBA{70, 70, 96, 255}
	colText       = color.RGBA{220, 220, 220, 255}
	colTextDim    = color.RGBA{120, 120, 120, 255}
	colValue      = color.RGBA{0, 220, 90, 255}
	colValueStale = color.RGBA{110, 110, 110, 255}
	colValueHot   = color.RGBA{255, 80, 60, 255}
	colStaleTag   = color.RGBA{255, 180, 0, 255}
	colRemote     = color.RGBA{90, 160, 255, 255}
	colBarBack    = color.RGBA{0, 0, 0, 180}
	colHealthOn   = color.RGBA{0, 220, 90, 255}
	colHealthOff  = color.RGBA{120, 120, 120, 255}
)
