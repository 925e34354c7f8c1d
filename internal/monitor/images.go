package monitor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"

	"github.com/banshee-data/loopstats/internal/httputil"
	"github.com/banshee-data/loopstats/internal/stats"
)

// ToImage converts a pixel buffer for display. One channel is grayscale,
// three channels are blue-green-red and four are blue-green-red-alpha.
func ToImage(im stats.Image) (image.Image, error) {
	if im.Empty() {
		return nil, fmt.Errorf("empty image")
	}
	if len(im.Pix) != im.Rows*im.Stride() {
		return nil, fmt.Errorf("image buffer has %d bytes, want %d for %dx%dx%d",
			len(im.Pix), im.Rows*im.Stride(), im.Rows, im.Cols, im.Channels)
	}

	rect := image.Rect(0, 0, im.Cols, im.Rows)
	switch im.Channels {
	case 1:
		out := image.NewGray(rect)
		for r := 0; r < im.Rows; r++ {
			copy(out.Pix[r*out.Stride:r*out.Stride+im.Cols], im.Pix[r*im.Stride():])
		}
		return out, nil
	case 3, 4:
		out := image.NewRGBA(rect)
		for r := 0; r < im.Rows; r++ {
			for c := 0; c < im.Cols; c++ {
				a := uint8(255)
				if im.Channels == 4 {
					a = im.At(r, c, 3)
				}
				out.SetRGBA(c, r, color.RGBA{R: im.At(r, c, 2), G: im.At(r, c, 1), B: im.At(r, c, 0), A: a})
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported channel count %d", im.Channels)
	}
}

// handleImage serves one extended image of the latest snapshot as PNG.
func (ws *WebServer) handleImage(pick func(*stats.Snapshot) stats.Image) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := ws.Latest()
		if s == nil {
			httputil.NotFound(w, "no snapshot published yet")
			return
		}
		src := pick(s)
		if src.Empty() {
			httputil.NotFound(w, "latest snapshot has no image")
			return
		}

		img, err := ToImage(src)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("encode png: %v", err))
			return
		}
		httputil.WriteBody(w, "image/png", buf.Bytes())
	}
}
