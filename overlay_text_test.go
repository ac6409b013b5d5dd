// overlay_text_test.go - Tests for canvas text composition

package main

import (
	"bytes"
	"testing"
)

// TestTextWidthFoldsUnsupportedRunes keeps measurement consistent with what
// the 7x13 face can actually draw.
func TestTextWidthFoldsUnsupportedRunes(t *testing.T) {
	if got, want := TextWidth("°C"), TextWidth("'C"); got != want {
		t.Errorf("Expected width %d for folded degree sign, got %d", want, got)
	}
	if got, want := TextWidth("日C"), TextWidth("?C"); got != want {
		t.Errorf("Expected width %d for folded wide rune, got %d", want, got)
	}
	if TextWidth("°C") != 2*glyphWidth {
		t.Errorf("Expected two glyph cells for °C, got %d", TextWidth("°C"))
	}
}

// TestDrawTextFoldsDegreeSign renders "°C" and its ASCII stand-in and expects
// identical pixels; without folding the face drops the degree glyph entirely.
func TestDrawTextFoldsDegreeSign(t *testing.T) {
	a := newOverlayCanvas(64, 20)
	b := newOverlayCanvas(64, 20)
	a.DrawText(2, 2, "°C", colText)
	b.DrawText(2, 2, "'C", colText)

	if !bytes.Equal(a.Pixels(), b.Pixels()) {
		t.Errorf("Expected °C to render as 'C on the 7x13 face")
	}

	blank := newOverlayCanvas(64, 20)
	if bytes.Equal(a.Pixels(), blank.Pixels()) {
		t.Fatalf("Expected folded text to produce visible glyphs")
	}
}

// TestDrawTextScaledFoldsBeforeScaling checks the scaled path measures and
// draws the folded string, so the unit label lines up at every panel size.
func TestDrawTextScaledFoldsBeforeScaling(t *testing.T) {
	a := newOverlayCanvas(80, 40)
	b := newOverlayCanvas(80, 40)
	a.DrawTextScaled(2, 2, "°C", colText, 2)
	b.DrawTextScaled(2, 2, "'C", colText, 2)

	if !bytes.Equal(a.Pixels(), b.Pixels()) {
		t.Errorf("Expected scaled °C to render as scaled 'C")
	}
}
