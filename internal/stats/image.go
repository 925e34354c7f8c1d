package stats

// Image is an opaque row-major pixel buffer (rows × cols × channels bytes)
// carried by extended snapshots. The stats package never decodes it.
type Image struct {
	Rows     int
	Cols     int
	Channels int
	Pix      []byte
}

// NewImage allocates a zeroed buffer of the given shape.
func NewImage(rows, cols, channels int) Image {
	if rows <= 0 || cols <= 0 || channels <= 0 {
		return Image{}
	}
	return Image{
		Rows:     rows,
		Cols:     cols,
		Channels: channels,
		Pix:      make([]byte, rows*cols*channels),
	}
}

// Empty reports whether the image holds no pixels.
func (im Image) Empty() bool {
	return len(im.Pix) == 0
}

// Stride is the number of bytes per row.
func (im Image) Stride() int {
	return im.Cols * im.Channels
}

// At returns the byte at row r, column c, channel ch, or 0 when out of range.
func (im Image) At(r, c, ch int) byte {
	if r < 0 || r >= im.Rows || c < 0 || c >= im.Cols || ch < 0 || ch >= im.Channels {
		return 0
	}
	i := r*im.Stride() + c*im.Channels + ch
	if i >= len(im.Pix) {
		return 0
	}
	return im.Pix[i]
}

// Clone returns a deep copy.
func (im Image) Clone() Image {
	out := im
	if im.Pix != nil {
		out.Pix = make([]byte, len(im.Pix))
		copy(out.Pix, im.Pix)
	}
	return out
}
