package jobs

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/tupyy/docjobs/pkg/document"
)

// copyRGBA copies an engine surface into memory owned by the job, with the
// origin moved to (0,0).
func copyRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// rescale resizes img to w x h with Catmull-Rom filtering.
func rescale(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// frame draws a one pixel border around img.
func frame(img *image.RGBA, c color.Color) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()+2, b.Dy()+2))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	draw.Draw(dst, b.Add(image.Pt(1, 1)), img, b.Min, draw.Src)
	return dst
}

// highlight returns a copy of surface where every region is recolored: dark
// pixels take the text color and light pixels the background color.
func highlight(surface *image.RGBA, regions []document.Rect, text, background color.Color) *image.RGBA {
	dst := copyRGBA(surface)
	tr, tg, tb, _ := text.RGBA()
	br, bg, bb, _ := background.RGBA()

	for _, r := range regions {
		area := r.Pixels().Intersect(dst.Bounds())
		for y := area.Min.Y; y < area.Max.Y; y++ {
			for x := area.Min.X; x < area.Max.X; x++ {
				px := dst.RGBAAt(x, y)
				// luminance in [0, 1]
				l := (0.299*float64(px.R) + 0.587*float64(px.G) + 0.114*float64(px.B)) / 255
				dst.SetRGBA(x, y, color.RGBA{
					R: mix(tr, br, l),
					G: mix(tg, bg, l),
					B: mix(tb, bb, l),
					A: 0xff,
				})
			}
		}
	}
	return dst
}

func mix(a, b uint32, t float64) uint8 {
	v := float64(a)*(1-t) + float64(b)*t
	return uint8(uint32(v) >> 8)
}
