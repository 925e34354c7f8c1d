package stats

import "testing"

func TestNewImage_Shape(t *testing.T) {
	im := NewImage(3, 4, 2)
	if im.Empty() {
		t.Fatal("expected non-empty image")
	}
	if len(im.Pix) != 24 {
		t.Errorf("len(Pix) = %d, want 24", len(im.Pix))
	}
	if im.Stride() != 8 {
		t.Errorf("Stride() = %d, want 8", im.Stride())
	}
}

func TestNewImage_InvalidShapeIsEmpty(t *testing.T) {
	for _, shape := range [][3]int{{0, 1, 1}, {1, 0, 1}, {1, 1, 0}, {-1, 2, 2}} {
		if im := NewImage(shape[0], shape[1], shape[2]); !im.Empty() {
			t.Errorf("NewImage(%v) should be empty", shape)
		}
	}
}

func TestImage_AtOutOfRange(t *testing.T) {
	im := NewImage(2, 2, 1)
	im.Pix[3] = 200

	if got := im.At(1, 1, 0); got != 200 {
		t.Errorf("At(1,1,0) = %d, want 200", got)
	}
	if got := im.At(2, 0, 0); got != 0 {
		t.Errorf("At(2,0,0) = %d, want 0", got)
	}
	if got := im.At(0, 0, 1); got != 0 {
		t.Errorf("At(0,0,1) = %d, want 0", got)
	}
}

func TestImage_CloneEmpty(t *testing.T) {
	var im Image
	if c := im.Clone(); !c.Empty() || c.Pix != nil {
		t.Errorf("Clone of zero image = %+v, want zero", c)
	}
}
