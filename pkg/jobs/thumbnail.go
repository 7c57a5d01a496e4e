package jobs

import (
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/tupyy/docjobs/pkg/document"
)

type ThumbnailParams struct {
	Page     int
	Rotation int
	Scale    float64
	// Border adds a one pixel frame around the thumbnail.
	Border bool
}

type ThumbnailResult struct {
	Surface *image.RGBA
}

type ThumbnailJob struct {
	*Base
	params ThumbnailParams
	result ThumbnailResult
}

var borderColor = color.RGBA{R: 0x77, G: 0x77, B: 0x77, A: 0xff}

func NewThumbnailJob(doc *document.Handle, params ThumbnailParams) *ThumbnailJob {
	if params.Scale <= 0 {
		params.Scale = 1
	}
	params.Rotation = int(document.NormalizeRotation(params.Rotation))
	j := &ThumbnailJob{params: params}
	j.Base = NewBase(KindThumbnail, doc, j)
	return j
}

func (j *ThumbnailJob) Params() ThumbnailParams { return j.params }

func (j *ThumbnailJob) Result() *ThumbnailResult { return &j.result }

// TargetSize returns the aspect-preserving thumbnail size for a page.
func TargetSize(page document.Size, rotation document.Rotation, scale float64) (int, int) {
	rotated := page.Rotated(rotation)
	w := int(math.Round(rotated.Width * scale))
	h := int(math.Round(rotated.Height * scale))
	return max(w, 1), max(h, 1)
}

func (j *ThumbnailJob) Run(rc *RunContext) error {
	if err := j.Checkpoint(rc); err != nil {
		return err
	}
	doc := j.Document()
	if doc == nil {
		return errNoDocument
	}
	backend := doc.Backend()

	size, err := backend.PageSize(j.params.Page)
	if err != nil {
		return err
	}
	rotation := document.Rotation(j.params.Rotation)
	w, h := TargetSize(size, rotation, j.params.Scale)

	img, err := backend.Render(document.RenderContext{
		Page:         j.params.Page,
		Rotation:     rotation,
		Scale:        j.params.Scale,
		TargetWidth:  w,
		TargetHeight: h,
	})
	if err != nil {
		return err
	}
	if img == nil {
		return errors.New("engine returned no surface")
	}

	var surface *image.RGBA
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		surface = rescale(img, w, h)
	} else {
		surface = copyRGBA(img)
	}
	if j.params.Border {
		surface = frame(surface, borderColor)
	}
	j.result.Surface = surface
	return nil
}
