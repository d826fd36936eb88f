// Package challenge renders CAPTCHA challenges and manages their on-disk artifacts.
package challenge

import (
	"bytes"
	"fmt"
	"image/color"
	"strconv"
	"strings"
	"sync"

	"github.com/h2non/filetype"
	"github.com/steambap/captcha"
)

// Options controls the rendered challenge.
type Options struct {
	Width      int
	Height     int
	Length     int
	Noise      int
	Background string // hex colour such as #fff4fc
}

// DefaultOptions mirrors the geometry used by the booking front end.
func DefaultOptions() Options {
	return Options{Width: 150, Height: 50, Length: 5, Noise: 2, Background: "#fff4fc"}
}

// Generator renders challenges.
type Generator interface {
	Generate() (artifact []byte, answer string, err error)
}

type captchaGenerator struct {
	opts Options
	bg   color.Color
}

// captcha.New draws from a random source shared across calls.
var renderMu sync.Mutex

// NewGenerator returns a PNG CAPTCHA generator.
func NewGenerator(opts Options) (Generator, error) {
	if opts.Width <= 0 || opts.Height <= 0 || opts.Length <= 0 {
		return nil, ErrRender.Msg("invalid challenge geometry")
	}
	bg, err := parseHexColor(opts.Background)
	if err != nil {
		return nil, ErrRender.MsgErr("invalid challenge background", err)
	}
	return &captchaGenerator{opts: opts, bg: bg}, nil
}

// Generate renders one challenge. The artifact is a PNG image and answer is its text.
func (g *captchaGenerator) Generate() ([]byte, string, error) {
	renderMu.Lock()
	data, err := captcha.New(g.opts.Width, g.opts.Height, func(o *captcha.Options) {
		o.TextLength = g.opts.Length
		o.CurveNumber = g.opts.Noise
		o.BackgroundColor = g.bg
	})
	renderMu.Unlock()
	if err != nil {
		return nil, "", ErrRender.Err(err)
	}

	var buf bytes.Buffer
	if err := data.WriteImage(&buf); err != nil {
		return nil, "", ErrRender.Err(err)
	}
	artifact := buf.Bytes()
	if !IsPNG(artifact) {
		return nil, "", ErrRender.Msg("rendered challenge is not a PNG image")
	}
	if data.Text == "" {
		return nil, "", ErrRender.Msg("rendered challenge has no answer")
	}
	return artifact, data.Text, nil
}

// IsPNG reports whether b sniffs as a PNG image.
func IsPNG(b []byte) bool {
	kind, err := filetype.Match(b)
	if err != nil {
		return false
	}
	return kind.MIME.Value == "image/png"
}

func parseHexColor(s string) (color.Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return nil, fmt.Errorf("expected #rgb or #rrggbb, got %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return nil, err
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
