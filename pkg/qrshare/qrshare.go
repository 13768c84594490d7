// Package qrshare renders share links as PNG QR codes with a trefoil badge
// in the middle. The code uses the highest error correction level so the
// badge can cover the center modules.
package qrshare

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	qrcode "github.com/skip2/go-qrcode"
)

// Options control the rendered image. Zero fields take defaults.
type Options struct {
	SizePx int        // output edge, default 640
	Fg     color.RGBA // modules, default black
	Bg     color.RGBA // background and quiet zone, default white
	Mark   color.RGBA // trefoil, default amber
	// BadgeFrac is the badge edge as a share of the image, clamped to
	// [0.20, 0.32].
	BadgeFrac float64
}

func (o Options) withDefaults() Options {
	if o.SizePx <= 0 {
		o.SizePx = 640
	}
	if (o.Fg == color.RGBA{}) {
		o.Fg = color.RGBA{0, 0, 0, 255}
	}
	if (o.Bg == color.RGBA{}) {
		o.Bg = color.RGBA{255, 255, 255, 255}
	}
	if (o.Mark == color.RGBA{}) {
		o.Mark = color.RGBA{233, 192, 35, 255}
	}
	if o.BadgeFrac <= 0 {
		o.BadgeFrac = 0.28
	}
	o.BadgeFrac = math.Max(0.20, math.Min(0.32, o.BadgeFrac))
	return o
}

// EncodePNG writes the QR code of text to w.
func EncodePNG(w io.Writer, text string, opt Options) error {
	opt = opt.withDefaults()

	qr, err := qrcode.New(text, qrcode.Highest)
	if err != nil {
		return err
	}
	qr.ForegroundColor = opt.Fg
	qr.BackgroundColor = opt.Bg

	src := qr.Image(opt.SizePx)
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	edge := int(opt.BadgeFrac * float64(min(b.Dx(), b.Dy())))
	cx, cy := b.Dx()/2, b.Dy()/2
	badge := image.Rect(cx-edge/2, cy-edge/2, cx+edge/2, cy+edge/2)
	draw.Draw(dst, badge, &image.Uniform{C: opt.Bg}, image.Point{}, draw.Src)
	drawTrefoil(dst, cx, cy, edge/2, opt.Mark)

	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, dst)
}

// drawTrefoil paints three 60° blades and a center disc inside radius r.
func drawTrefoil(img *image.RGBA, cx, cy, r int, col color.RGBA) {
	outer := 0.92 * float64(r)
	inner := 0.35 * outer
	hub := 0.20 * outer
	blades := []float64{90, 210, 330}

	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx, dy := float64(x-cx), float64(y-cy)
			d := math.Hypot(dx, dy)
			if d <= hub {
				img.SetRGBA(x, y, col)
				continue
			}
			if d < inner || d > outer {
				continue
			}
			a := math.Atan2(dy, dx) * 180 / math.Pi
			for _, c := range blades {
				if angleDist(a, c) <= 30 {
					img.SetRGBA(x, y, col)
					break
				}
			}
		}
	}
}

// angleDist is the absolute difference of two angles in degrees, in [0,180].
func angleDist(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}
