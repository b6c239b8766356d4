package render

// BytesPerPixel is the size of one RGBA pixel. All buffers in the pipeline
// are tightly packed RGBA.
const BytesPerPixel = 4

// Result is a standalone rendered artifact whose pixel buffer is owned by
// the holder (unlike a cache view, which borrows). Spread composition
// returns Results; callers release the buffer back to the pool when done.
type Result struct {
	Key    Key
	Pix    []byte
	Width  int
	Height int
	Stride int
	Text   string
}

// PixelBytes returns the buffer size needed for a w x h RGBA artifact.
func PixelBytes(w, h int) int {
	return w * h * BytesPerPixel
}
