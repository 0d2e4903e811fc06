package img

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
)

// Types of image transformations
type TransType int

const NoTrans TransType = 0

const (
	HorizFlip TransType = 1 << iota
	Pan
)

// Distortions are the random transformations applied to training images
var Distortions = HorizFlip | Pan

var transTypeNames = map[TransType]string{
	HorizFlip: "HorizFlip",
	Pan:       "Pan",
}

func (t TransType) String() string {
	if t == NoTrans {
		return "None"
	}
	s := []string{}
	for key, name := range transTypeNames {
		if t&key != 0 {
			s = append(s, name)
		}
	}
	sort.Strings(s)
	return strings.Join(s, " ")
}

// Maximum offset in pixels for the Pan transform
var PanPixels = 4

// Transformer applies random distortions to batches of [3, height, width] images. It implements
// the nnet.Transformer interface so it can be attached to the training set.
type Transformer struct {
	Trans TransType
	w, h  int
	rng   *rand.Rand
	mu    sync.Mutex
	temp  []float32
}

// Create a new transformer object which applies a sequence of image transformations
func NewTransformer(width, height int, trans TransType, rng *rand.Rand) *Transformer {
	return &Transformer{Trans: trans, w: width, h: height, rng: rng, temp: make([]float32, 3*width*height)}
}

// TransformBatch transforms n images stored consecutively in buf in place.
func (t *Transformer) TransformBatch(buf []float32, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	size := 3 * t.w * t.h
	for i := 0; i < n; i++ {
		t.Transform(FromPixels(buf[i*size:(i+1)*size], t.w, t.h))
	}
}

// Transform applies a random flip and pan to the image in place.
func (t *Transformer) Transform(m *Image) {
	if t.Trans&HorizFlip != 0 && t.rng.Float64() > 0.5 {
		t.apply(m, func(x, y int) (int, int) { return t.w - x - 1, y })
	}
	if t.Trans&Pan != 0 && PanPixels > 0 {
		ox := t.rng.Intn(2*PanPixels+1) - PanPixels
		oy := t.rng.Intn(2*PanPixels+1) - PanPixels
		if ox != 0 || oy != 0 {
			t.apply(m, func(x, y int) (int, int) { return wrap(x-ox, t.w), wrap(y-oy, t.h) })
		}
	}
}

// set each destination pixel from the source position given by fn
func (t *Transformer) apply(m *Image, fn func(x, y int) (int, int)) {
	copy(t.temp, m.Pix)
	plane := t.w * t.h
	for y := 0; y < t.h; y++ {
		for x := 0; x < t.w; x++ {
			sx, sy := fn(x, y)
			for ch := 0; ch < 3; ch++ {
				m.Pix[ch*plane+y*t.w+x] = t.temp[ch*plane+sy*t.w+sx]
			}
		}
	}
}

// reflect coordinates at the image border
func wrap(x, dx int) int {
	if x < 0 {
		x = -x - 1
	}
	if x >= dx {
		x = 2*dx - x - 1
	}
	return clampi(x, 0, dx-1)
}

func clampi(x, x0, x1 int) int {
	if x < x0 {
		return x0
	}
	if x > x1 {
		return x1
	}
	return x
}
