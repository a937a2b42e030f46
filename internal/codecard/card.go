package codecard

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

//go:embed assets/*.svg
var iconFiles embed.FS

// Card holds the fields rendered onto a verification code card.
// The embedded Go fonts carry no Hangul glyphs, so card text stays ASCII;
// Korean copy belongs in the accompanying chat message.
type Card struct {
	Title  string // header line, e.g. "계정 인증"
	Name   string // claimed game username
	Code   string // e.g. "MC-H7K2PQ"
	Footer string // instruction line under the code
}

type Renderer interface {
	RenderPNG(ctx context.Context, card Card) ([]byte, error)
}

type cardRenderer struct{}

func NewRenderer() Renderer { return &cardRenderer{} }

const (
	cardWidth    = 520
	cardHeight   = 260
	cardRadius   = 18
	iconSize     = 72
	iconMarginX  = 32
	contentLeft  = iconMarginX + iconSize + 24
	titleTop     = 44
	nameTop      = 86
	codeTop      = 112
	codeHeight   = 64
	footerBottom = 28
)

var (
	cardBackground = color.NRGBA{R: 28, G: 31, B: 46, A: 255}
	codePanelColor = color.NRGBA{R: 40, G: 44, B: 66, A: 255}
	titleColor     = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	nameColor      = color.NRGBA{R: 160, G: 220, B: 180, A: 255}
	codeColor      = color.NRGBA{R: 255, G: 228, B: 120, A: 255}
	footerColor    = color.NRGBA{R: 150, G: 156, B: 184, A: 255}
)

func (r *cardRenderer) RenderPNG(ctx context.Context, card Card) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img := image.NewRGBA(image.Rect(0, 0, cardWidth, cardHeight))
	drawRoundedPanel(img, img.Bounds(), cardRadius, cardBackground)

	icon, err := renderIconImage("assets/shield.svg", iconSize)
	if err != nil {
		return nil, err
	}
	iconRect := image.Rect(iconMarginX, titleTop-8, iconMarginX+iconSize, titleTop-8+iconSize)
	imagedraw.Draw(img, iconRect, icon, image.Point{}, imagedraw.Over)

	titleFace, err := faceFor("regular", goregular.TTF, 22)
	if err != nil {
		return nil, err
	}
	nameFace, err := faceFor("regular", goregular.TTF, 16)
	if err != nil {
		return nil, err
	}
	codeFace, err := faceFor("bold", gobold.TTF, 40)
	if err != nil {
		return nil, err
	}
	footerFace, err := faceFor("regular", goregular.TTF, 14)
	if err != nil {
		return nil, err
	}

	drawer := &font.Drawer{Dst: img}

	drawer.Face = titleFace
	drawLeftString(drawer, contentLeft, titleTop, strings.TrimSpace(card.Title), titleColor)

	drawer.Face = nameFace
	drawLeftString(drawer, contentLeft, nameTop, strings.TrimSpace(card.Name), nameColor)

	codeRect := image.Rect(contentLeft-12, codeTop, cardWidth-iconMarginX, codeTop+codeHeight)
	drawRoundedPanel(img, codeRect, 12, codePanelColor)
	drawer.Face = codeFace
	drawCenteredString(drawer, codeRect, strings.TrimSpace(card.Code), codeColor)

	drawer.Face = footerFace
	footerRect := image.Rect(0, cardHeight-footerBottom-20, cardWidth, cardHeight-footerBottom)
	drawCenteredString(drawer, footerRect, strings.TrimSpace(card.Footer), footerColor)

	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return pngBuf.Bytes(), nil
}

type iconCacheKey struct {
	name string
	size int
}

var (
	iconCache   = map[iconCacheKey]image.Image{}
	iconCacheMu sync.RWMutex
)

func renderIconImage(name string, size int) (image.Image, error) {
	key := iconCacheKey{name: name, size: size}

	iconCacheMu.RLock()
	if img, ok := iconCache[key]; ok {
		iconCacheMu.RUnlock()
		return img, nil
	}
	iconCacheMu.RUnlock()

	data, err := iconFiles.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read icon asset %s: %w", name, err)
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(sanitizeSVG(data)))
	if err != nil {
		return nil, fmt.Errorf("parse icon svg: %w", err)
	}

	w := int(icon.ViewBox.W)
	h := int(icon.ViewBox.H)
	if w <= 0 {
		w = size
		icon.ViewBox.W = float64(w)
	}
	if h <= 0 {
		h = size
		icon.ViewBox.H = float64(h)
	}

	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, imagedraw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	iconCacheMu.Lock()
	iconCache[key] = img
	iconCacheMu.Unlock()

	return img, nil
}

var (
	faceCache   = map[faceCacheKey]font.Face{}
	faceCacheMu sync.Mutex
)

type faceCacheKey struct {
	weight string
	size   float64
}

func faceFor(weight string, ttf []byte, size float64) (font.Face, error) {
	key := faceCacheKey{weight: weight, size: size}

	faceCacheMu.Lock()
	defer faceCacheMu.Unlock()
	if f, ok := faceCache[key]; ok {
		return f, nil
	}

	parsed, err := opentype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("build face: %w", err)
	}
	faceCache[key] = face
	return face, nil
}

func drawLeftString(drawer *font.Drawer, x, baseline int, text string, clr color.Color) {
	if drawer == nil || strings.TrimSpace(text) == "" {
		return
	}
	drawer.Src = image.NewUniform(clr)
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)
}

func drawCenteredString(drawer *font.Drawer, rect image.Rectangle, text string, clr color.Color) {
	if drawer == nil {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	metrics := drawer.Face.Metrics()
	width := drawer.MeasureString(text).Round()
	x := rect.Min.X + (rect.Dx()-width)/2
	if x < rect.Min.X {
		x = rect.Min.X
	}
	baseline := rect.Min.Y + (rect.Dy()+metrics.Ascent.Ceil()-metrics.Descent.Ceil())/2
	drawer.Src = image.NewUniform(clr)
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)
}

func drawRoundedPanel(img *image.RGBA, rect image.Rectangle, radius int, clr color.Color) {
	if img == nil || rect.Empty() {
		return
	}
	if radius < 0 {
		radius = 0
	}
	maxRadius := rect.Dx() / 2
	if r := rect.Dy() / 2; r < maxRadius {
		maxRadius = r
	}
	if radius > maxRadius {
		radius = maxRadius
	}
	fill := image.NewUniform(clr)
	if radius == 0 {
		imagedraw.Draw(img, rect, fill, image.Point{}, imagedraw.Over)
		return
	}

	core := image.Rect(rect.Min.X+radius, rect.Min.Y, rect.Max.X-radius, rect.Max.Y)
	if core.Dx() > 0 {
		imagedraw.Draw(img, core, fill, image.Point{}, imagedraw.Over)
	}
	left := image.Rect(rect.Min.X, rect.Min.Y+radius, rect.Min.X+radius, rect.Max.Y-radius)
	if left.Dx() > 0 {
		imagedraw.Draw(img, left, fill, image.Point{}, imagedraw.Over)
	}
	right := image.Rect(rect.Max.X-radius, rect.Min.Y+radius, rect.Max.X, rect.Max.Y-radius)
	if right.Dx() > 0 {
		imagedraw.Draw(img, right, fill, image.Point{}, imagedraw.Over)
	}

	corners := []struct {
		cx, cy int
		rect   image.Rectangle
	}{
		{rect.Min.X + radius, rect.Min.Y + radius, image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+radius, rect.Min.Y+radius)},
		{rect.Max.X - radius, rect.Min.Y + radius, image.Rect(rect.Max.X-radius, rect.Min.Y, rect.Max.X, rect.Min.Y+radius)},
		{rect.Min.X + radius, rect.Max.Y - radius, image.Rect(rect.Min.X, rect.Max.Y-radius, rect.Min.X+radius, rect.Max.Y)},
		{rect.Max.X - radius, rect.Max.Y - radius, image.Rect(rect.Max.X-radius, rect.Max.Y-radius, rect.Max.X, rect.Max.Y)},
	}
	rr := radius * radius
	for _, c := range corners {
		for y := c.rect.Min.Y; y < c.rect.Max.Y; y++ {
			for x := c.rect.Min.X; x < c.rect.Max.X; x++ {
				dx := x - c.cx
				dy := y - c.cy
				if dx*dx+dy*dy <= rr {
					img.Set(x, y, clr)
				}
			}
		}
	}
}

func sanitizeSVG(svg []byte) []byte {
	fixedSVG := bytes.ReplaceAll(svg, []byte("fill:000000"), []byte("fill:#000000"))
	fixedSVG = bytes.ReplaceAll(fixedSVG, []byte("fill: 000000"), []byte("fill:#000000"))
	fixedSVG = bytes.ReplaceAll(fixedSVG, []byte("stroke: 000000"), []byte("stroke:#000000"))
	fixedSVG = bytes.ReplaceAll(fixedSVG, []byte("fill: #"), []byte("fill:#"))
	fixedSVG = bytes.ReplaceAll(fixedSVG, []byte("stroke: #"), []byte("stroke:#"))
	fixedSVG = bytes.ReplaceAll(fixedSVG, []byte("stop-color: #"), []byte("stop-color:#"))
	return fixedSVG
}
