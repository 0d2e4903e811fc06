package img

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JuanCldCmt/ML-mini-project/num"
)

// write n solid colour png images to dir/files, odd numbered images are red and even are blue
func writeImages(t *testing.T, dir string, n int) []string {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, FilesDir), 0755); err != nil {
		t.Fatal(err)
	}
	var names []string
	for i := 0; i < n; i++ {
		m := image.NewRGBA(image.Rect(0, 0, 20+i, 16))
		c := color.RGBA{B: 255, A: 255}
		if i%2 == 1 {
			c = color.RGBA{R: 255, A: 255}
		}
		for y := 0; y < 16; y++ {
			for x := 0; x < 20+i; x++ {
				m.Set(x, y, c)
			}
		}
		name := fmt.Sprintf("img%02d.png", i)
		f, err := os.Create(filepath.Join(dir, FilesDir, name))
		if err != nil {
			t.Fatal(err)
		}
		if err = png.Encode(f, m); err != nil {
			t.Fatal(err)
		}
		f.Close()
		names = append(names, name)
	}
	return names
}

func writeLabels(t *testing.T, dir string, lines ...string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, LabelsFile), []byte(strings.Join(lines, "\n")+"\n"), 0644)
	if err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, 10)
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("%d extra fields ignored", i%2))
	}
	writeLabels(t, dir, lines...)
	data, err := Load(dir, LoadOptions{Width: 8, Height: 6, Threads: 3})
	if err != nil {
		t.Fatal(err)
	}
	if data.Len() != 10 || !num.SameShape(data.Shape(), []int{3, 6, 8}) {
		t.Fatalf("got %d images with shape %v", data.Len(), data.Shape())
	}
	labels := make([]float32, 10)
	data.Label([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, labels)
	for i, m := range data.Images {
		if data.Names[i] != fmt.Sprintf("img%02d.png", i) {
			t.Errorf("image %d name %s", i, data.Names[i])
		}
		if labels[i] != float32(i%2) {
			t.Errorf("image %d label %v", i, labels[i])
		}
		// red images have label 1
		c := m.RGBAt(4, 3)
		if (c.R > 0.99) != (labels[i] == 1) || (c.B > 0.99) != (labels[i] == 0) || c.G > 0.01 {
			t.Errorf("image %d colour %+v", i, c)
		}
	}
	buf := make([]float32, 2*3*6*8)
	data.Input([]int{1, 2}, buf)
	if buf[0] < 0.99 || buf[3*6*8] > 0.01 {
		t.Errorf("input data: got %v %v", buf[0], buf[3*6*8])
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		mode   string
		errMsg string
	}{
		{"exhausted", []string{"0", "1"}, Positional, "ran out of labels"},
		{"extra", []string{"0", "1", "0", "1"}, Positional, "more labels"},
		{"invalid", []string{"0", "x", "1"}, Positional, "invalid label"},
		{"range", []string{"0", "2", "1"}, Positional, "must be 0 or 1"},
		{"blank", []string{"0", "", "1"}, Positional, "missing label"},
		{"missing key", []string{"0 img00.png", "1 img01.png"}, Keyed, "no label for image img02.png"},
		{"unknown key", []string{"0 img00.png", "1 img01.png", "1 other.png"}, Keyed, "no image named"},
		{"duplicate key", []string{"0 img00.png", "1 img00.png"}, Keyed, "duplicate"},
	}
	for _, test := range tests {
		dir := t.TempDir()
		writeImages(t, dir, 3)
		writeLabels(t, dir, test.labels...)
		_, err := Load(dir, LoadOptions{Width: 4, Height: 4, Labels: test.mode})
		if err == nil || !strings.Contains(err.Error(), test.errMsg) {
			t.Errorf("%s: expected error containing %q, got %v", test.name, test.errMsg, err)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing"), LoadOptions{Width: 4, Height: 4}); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestLoadKeyed(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, 4)
	writeLabels(t, dir, "1 img03.png", "", "0 img00.png", "1 img01.png", "0 img02.png")
	data, err := Load(dir, LoadOptions{Width: 4, Height: 4, Labels: Keyed})
	if err != nil {
		t.Fatal(err)
	}
	for i, label := range data.Labels {
		if label != int32(i%2) {
			t.Errorf("image %d label %d", i, label)
		}
	}
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, 2)
	if err := os.WriteFile(filepath.Join(dir, FilesDir, "img02.png"), []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}
	writeLabels(t, dir, "0", "1", "0")
	if _, err := Load(dir, LoadOptions{Width: 4, Height: 4}); err == nil || !strings.Contains(err.Error(), "img02.png") {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, 3)
	writeLabels(t, dir, "0", "1", "0")
	data, err := Load(dir, LoadOptions{Width: 5, Height: 4})
	if err != nil {
		t.Fatal(err)
	}
	mean, std := data.ChannelStats()
	var buf bytes.Buffer
	if err = data.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	data2 := new(Data)
	if err = data2.Decode(&buf); err != nil {
		t.Fatal(err)
	}
	if data2.Len() != 3 || data2.Names[1] != "img01.png" || data2.Images[2].Pix[0] != data.Images[2].Pix[0] {
		t.Errorf("decoded data mismatch: %+v", data2.DataHead)
	}
	// stats are stored in the header and not recalculated
	data2.Images = nil
	mean2, std2 := data2.ChannelStats()
	for ch := range mean {
		if mean2[ch] != mean[ch] || std2[ch] != std[ch] {
			t.Errorf("channel %d stats: %v %v => %v %v", ch, mean[ch], std[ch], mean2[ch], std2[ch])
		}
	}
}

func TestGetStats(t *testing.T) {
	m1, m2 := NewImage(2, 2), NewImage(2, 2)
	for i := range m2.Pix {
		m2.Pix[i] = 1
	}
	mean, std := GetStats([]*Image{m1, m2})
	for ch := 0; ch < 3; ch++ {
		if mean[ch] != 0.5 || std[ch] < 0.53 || std[ch] > 0.54 {
			t.Errorf("channel %d: mean=%v std=%v", ch, mean[ch], std[ch])
		}
	}
}

func TestTransform(t *testing.T) {
	w, h := 6, 4
	src := NewImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.Set(x, y, RGB{R: float32(x) / 10, G: float32(y) / 10})
		}
	}
	trans := NewTransformer(w, h, HorizFlip, rand.New(rand.NewSource(1)))
	flipped := 0
	for i := 0; i < 20; i++ {
		m := FromPixels(append([]float32{}, src.Pix...), w, h)
		trans.Transform(m)
		switch m.RGBAt(0, 0).R {
		case 0:
			if m.RGBAt(w-1, 0).R != float32(w-1)/10 {
				t.Fatal("image changed without flip")
			}
		case float32(w-1) / 10:
			flipped++
		default:
			t.Fatalf("unexpected pixel value %v", m.RGBAt(0, 0))
		}
		if m.RGBAt(2, 3).G != 0.3 {
			t.Fatal("horizontal flip changed rows")
		}
	}
	if flipped == 0 || flipped == 20 {
		t.Errorf("flip not random: %d of 20", flipped)
	}
	if s := Distortions.String(); !strings.Contains(s, "HorizFlip") || !strings.Contains(s, "Pan") {
		t.Errorf("distortions: %s", s)
	}

	buf := make([]float32, 2*3*w*h)
	pan := NewTransformer(w, h, Pan, rand.New(rand.NewSource(2)))
	pan.TransformBatch(buf, 2)
	for _, v := range buf {
		if v != 0 {
			t.Fatal("pan of blank image should be blank")
		}
	}
}

func TestPredictionGrid(t *testing.T) {
	n, w, h := 5, 8, 8
	x := num.NewArray(n, 3, h, w)
	labels := []float32{1, 0, 1, 0, 1}
	pred := []float32{0.9, 0.8, 0.2, 0.1, 0.6}
	m := PredictionGrid(x, labels, pred)
	cw, ch := w+2*GridBorder+4, h+2*GridBorder+GridCaption+4
	if b := m.Bounds(); b.Dx() != 4*cw || b.Dy() != 2*ch {
		t.Fatalf("grid size %v", b)
	}
	expect := []color.RGBA{Correct, Incorrect, Incorrect, Correct, Correct}
	for i, c := range expect {
		px := m.At((i%4)*cw+2, (i/4)*ch+2)
		if color.RGBAModel.Convert(px) != c {
			t.Errorf("cell %d border %v expect %v", i, px, c)
		}
	}
}
