package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/vpn"
)

// Symbol is the glyph drawn inside the shield.
type Symbol int

const (
	SymbolLock Symbol = iota
	SymbolCheckmark
	SymbolDots
	SymbolCross
)

// IconConfig defines the configuration for icon generation.
type IconConfig struct {
	Size        int
	FillColor   color.RGBA
	BorderColor color.RGBA
	AccentColor color.RGBA
	SymbolColor color.RGBA
	Symbol      Symbol
}

// DefaultConnectedIconConfig returns the default config for connected state.
func DefaultConnectedIconConfig() IconConfig {
	return IconConfig{
		Size:        common.TrayIconSize,
		FillColor:   color.RGBA{56, 142, 60, 255},   // Dark green
		BorderColor: color.RGBA{76, 175, 80, 255},   // Green
		AccentColor: color.RGBA{200, 230, 201, 255}, // Light green
		SymbolColor: color.RGBA{255, 255, 255, 255}, // White
		Symbol:      SymbolCheckmark,
	}
}

// DefaultConnectingIconConfig returns the config used while a session is
// being set up or torn down.
func DefaultConnectingIconConfig() IconConfig {
	return IconConfig{
		Size:        common.TrayIconSize,
		FillColor:   color.RGBA{245, 124, 0, 255},   // Dark amber
		BorderColor: color.RGBA{255, 167, 38, 255},  // Amber
		AccentColor: color.RGBA{255, 224, 178, 255}, // Light amber
		SymbolColor: color.RGBA{255, 255, 255, 255},
		Symbol:      SymbolDots,
	}
}

// DefaultFailedIconConfig returns the config for a failed session.
func DefaultFailedIconConfig() IconConfig {
	return IconConfig{
		Size:        common.TrayIconSize,
		FillColor:   color.RGBA{198, 40, 40, 255},   // Dark red
		BorderColor: color.RGBA{239, 83, 80, 255},   // Red
		AccentColor: color.RGBA{255, 205, 210, 255}, // Light red
		SymbolColor: color.RGBA{255, 255, 255, 255},
		Symbol:      SymbolCross,
	}
}

// DefaultDisconnectedIconConfig returns the default config for disconnected state.
func DefaultDisconnectedIconConfig() IconConfig {
	return IconConfig{
		Size:        common.TrayIconSize,
		FillColor:   color.RGBA{117, 117, 117, 255}, // Dark gray
		BorderColor: color.RGBA{158, 158, 158, 255}, // Gray
		AccentColor: color.RGBA{189, 189, 189, 255}, // Light gray
		SymbolColor: color.RGBA{255, 255, 255, 255}, // White
		Symbol:      SymbolLock,
	}
}

// IconGenerator generates PNG icons for the system tray.
type IconGenerator struct {
	config IconConfig
}

// NewIconGenerator creates a new icon generator with the given config.
func NewIconGenerator(config IconConfig) *IconGenerator {
	return &IconGenerator{config: config}
}

// Generate creates a PNG icon and returns the bytes.
func (g *IconGenerator) Generate() []byte {
	size := g.config.Size
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	// Draw shield
	g.drawShield(img)

	switch g.config.Symbol {
	case SymbolCheckmark:
		g.drawCheckmark(img)
	case SymbolDots:
		g.drawDots(img)
	case SymbolCross:
		g.drawCross(img)
	default:
		g.drawLock(img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		common.LogError("Failed to encode tray icon: %v", err)
		return nil
	}
	return buf.Bytes()
}

// drawShield draws the shield shape on the image.
func (g *IconGenerator) drawShield(img *image.RGBA) {
	size := g.config.Size
	centerX := float64(size) / 2
	topY := 1.0
	bottomY := float64(size) - 2
	shieldWidth := float64(size) - 4

	isInShield := func(x, y float64) bool {
		relY := (y - topY) / (bottomY - topY)
		if relY < 0 || relY > 1 {
			return false
		}

		var halfWidth float64
		if relY < 0.5 {
			halfWidth = shieldWidth/2 - relY*0.5
		} else {
			progress := (relY - 0.5) * 2
			halfWidth = (shieldWidth/2 - 0.25) * (1 - progress*progress)
		}

		return x >= centerX-halfWidth && x <= centerX+halfWidth
	}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			fx, fy := float64(x)+0.5, float64(y)+0.5

			if isInShield(fx, fy) {
				isBorder := !isInShield(fx-1, fy) || !isInShield(fx+1, fy) ||
					!isInShield(fx, fy-1) || !isInShield(fx, fy+1)

				if isBorder {
					img.Set(x, y, g.config.BorderColor)
				} else {
					relY := float64(y) / float64(size)
					if relY < 0.3 {
						img.Set(x, y, g.config.AccentColor)
					} else {
						img.Set(x, y, g.config.FillColor)
					}
				}
			}
		}
	}
}

// drawCheckmark draws a checkmark symbol on the image.
func (g *IconGenerator) drawCheckmark(img *image.RGBA) {
	// Checkmark points
	points := []struct{ x, y int }{
		{6, 11}, {7, 11}, {7, 12}, {8, 12}, {8, 13}, {9, 13},
		{9, 12}, {10, 12}, {10, 11}, {11, 11}, {11, 10}, {12, 10},
		{12, 9}, {13, 9}, {13, 8}, {14, 8},
	}
	for _, p := range points {
		if p.x >= 0 && p.x < g.config.Size && p.y >= 0 && p.y < g.config.Size {
			img.Set(p.x, p.y, g.config.SymbolColor)
		}
	}
}

// drawLock draws a lock symbol on the image.
func (g *IconGenerator) drawLock(img *image.RGBA) {
	c := g.config.SymbolColor

	// Lock body
	for y := 10; y <= 15; y++ {
		for x := 8; x <= 14; x++ {
			if y == 10 || y == 15 || x == 8 || x == 14 {
				img.Set(x, y, c)
			}
		}
	}

	// Lock shackle
	for y := 6; y <= 10; y++ {
		if y <= 8 {
			img.Set(9, y, c)
			img.Set(13, y, c)
		}
		if y == 6 {
			for x := 9; x <= 13; x++ {
				img.Set(x, y, c)
			}
		}
	}
}

// drawDots draws three dots, the "in progress" symbol.
func (g *IconGenerator) drawDots(img *image.RGBA) {
	for _, cx := range []int{7, 11, 15} {
		for y := 10; y <= 11; y++ {
			for x := cx - 1; x <= cx; x++ {
				img.Set(x, y, g.config.SymbolColor)
			}
		}
	}
}

// drawCross draws an X.
func (g *IconGenerator) drawCross(img *image.RGBA) {
	for i := 0; i <= 6; i++ {
		img.Set(8+i, 7+i, g.config.SymbolColor)
		img.Set(14-i, 7+i, g.config.SymbolColor)
	}
}

// Pre-generated icons, one per session state.
var (
	iconConnected    = NewIconGenerator(DefaultConnectedIconConfig()).Generate()
	iconConnecting   = NewIconGenerator(DefaultConnectingIconConfig()).Generate()
	iconFailed       = NewIconGenerator(DefaultFailedIconConfig()).Generate()
	iconDisconnected = NewIconGenerator(DefaultDisconnectedIconConfig()).Generate()
)

// IconFor returns the tray icon for a session state.
func IconFor(state vpn.SessionState) []byte {
	switch state {
	case vpn.StateConnected:
		return iconConnected
	case vpn.StateConnecting, vpn.StateDisconnecting:
		return iconConnecting
	case vpn.StateFailed:
		return iconFailed
	default:
		return iconDisconnected
	}
}
