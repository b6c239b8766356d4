package decode

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/lecternapp/render/internal/cache"
	"github.com/lecternapp/render/internal/render"
)

// ComposeSpread composites two rendered pages side by side into one new
// buffer from the pool. The inputs are only read; both views stay valid and
// independently evictable. The returned result owns its buffer — release it
// with ReleaseResult when the frame is done.
func (c *Coordinator) ComposeSpread(left, right *cache.View) (render.Result, error) {
	if left == nil || right == nil {
		return render.Result{}, fmt.Errorf("compose spread: nil input view")
	}
	if left.Height() != right.Height() {
		return render.Result{}, fmt.Errorf("compose spread: height mismatch %d vs %d", left.Height(), right.Height())
	}
	if left.Pix() == nil || right.Pix() == nil {
		return render.Result{}, fmt.Errorf("compose spread: text-only view has no pixels")
	}

	width := left.Width() + right.Width()
	height := left.Height()

	buf, err := c.pool.Acquire(render.PixelBytes(width, height))
	if err != nil {
		return render.Result{}, err
	}

	dst := &image.RGBA{
		Pix:    buf,
		Stride: width * render.BytesPerPixel,
		Rect:   image.Rect(0, 0, width, height),
	}
	draw.Draw(dst, image.Rect(0, 0, left.Width(), height), viewImage(left), image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(left.Width(), 0, width, height), viewImage(right), image.Point{}, draw.Src)

	key := left.Key()
	key.Width = width
	key.Height = height
	key.Mode = render.ModeSingle

	return render.Result{
		Key:    key,
		Pix:    buf,
		Width:  width,
		Height: height,
		Stride: dst.Stride,
	}, nil
}

// ReleaseResult returns a composed result's buffer to the pool.
func (c *Coordinator) ReleaseResult(r render.Result) {
	c.pool.Release(r.Pix)
}

// viewImage wraps a borrowed view's pixels as a read-only image.RGBA.
func viewImage(v *cache.View) *image.RGBA {
	return &image.RGBA{
		Pix:    v.Pix(),
		Stride: v.Stride(),
		Rect:   image.Rect(0, 0, v.Width(), v.Height()),
	}
}
