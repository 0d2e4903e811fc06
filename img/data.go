package img

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/JuanCldCmt/ML-mini-project/stats"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Class names for label values 0 and 1
var ClassNames = []string{"not smiling", "smiling"}

// Image data set which implements the nnet.Data interface
type Data struct {
	DataHead
	Images []*Image
}

type DataHead struct {
	Class  []string
	Dims   []int
	Labels []int32
	Names  []string
	Mean   []float32
	StdDev []float32
}

// Create a new image set, all images must have the same size.
func NewData(names []string, labels []int32, images []*Image) (*Data, error) {
	if len(images) == 0 {
		return nil, errors.New("no images")
	}
	if len(labels) != len(images) || len(names) != len(images) {
		return nil, errors.Errorf("have %d images, %d labels and %d names", len(images), len(labels), len(names))
	}
	src := images[0]
	for i, m := range images {
		if m.Width != src.Width || m.Height != src.Height {
			return nil, errors.Errorf("image %s is %dx%d: expecting %dx%d", names[i], m.Width, m.Height, src.Width, src.Height)
		}
	}
	return &Data{
		DataHead: DataHead{Class: ClassNames, Dims: []int{3, src.Height, src.Width}, Labels: labels, Names: names},
		Images:   images,
	}, nil
}

// Len function returns number of images
func (d *Data) Len() int { return len(d.Labels) }

// Classes functions number of differerent label values
func (d *Data) Classes() []string { return d.Class }

// Shape returns channels, height, width
func (d *Data) Shape() []int { return d.Dims }

// Label returns classification for given images
func (d *Data) Label(index []int, label []float32) {
	for i, ix := range index {
		label[i] = float32(d.Labels[ix])
	}
}

// Input returns the pixel data for the given images in buf
func (d *Data) Input(index []int, buf []float32) {
	nfeat := d.nfeat()
	for i, ix := range index {
		copy(buf[i*nfeat:], d.Images[ix].Pix)
	}
}

// ChannelStats returns the mean and standard deviation of each colour channel, these are
// calculated on the first call and saved in the header.
func (d *Data) ChannelStats() (mean, std []float32) {
	if len(d.Mean) != 3 || len(d.StdDev) != 3 {
		d.Mean, d.StdDev = GetStats(d.Images)
	}
	return d.Mean, d.StdDev
}

func (d *Data) nfeat() int {
	n := 1
	for _, d := range d.Dims {
		n *= d
	}
	return n
}

// Encode data to binary file
func (d *Data) Encode(w io.Writer) error {
	enc := gob.NewEncoder(w)
	if err := enc.Encode(&d.DataHead); err != nil {
		return errors.Wrap(err, "error encoding header")
	}
	for i, img := range d.Images {
		if err := enc.Encode(img); err != nil {
			return errors.Wrapf(err, "error encoding image %d", i)
		}
	}
	return nil
}

// Decode data from binary file
func (d *Data) Decode(r io.Reader) error {
	d.DataHead = DataHead{}
	dec := gob.NewDecoder(r)
	if err := dec.Decode(&d.DataHead); err != nil {
		return errors.Wrap(err, "error decoding header")
	}
	d.Images = make([]*Image, d.Len())
	for i := range d.Images {
		if err := dec.Decode(&d.Images[i]); err != nil {
			return errors.Wrapf(err, "error decoding image %d", i)
		}
	}
	return nil
}

// SaveFile writes the data set to a cache file.
func (d *Data) SaveFile(name string) error {
	f, err := os.Create(name)
	if err != nil {
		return errors.Wrap(err, "save data")
	}
	if err = d.Encode(f); err != nil {
		f.Close()
		return err
	}
	klog.V(1).Infof("saved %d images to %s", d.Len(), name)
	return errors.Wrap(f.Close(), "save data")
}

// LoadFile reads a data set written by SaveFile.
func LoadFile(name string) (*Data, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, "load data")
	}
	defer f.Close()
	d := new(Data)
	if err = d.Decode(f); err != nil {
		return nil, errors.Wrapf(err, "load data from %s", name)
	}
	klog.V(1).Infof("loaded %d images from %s", d.Len(), name)
	return d, nil
}

// Calculate mean and stddev for each colour channel from set of images
func GetStats(imgList ...[]*Image) (mean, std []float32) {
	stat := make([]*stats.Average, 3)
	for i := range stat {
		stat[i] = new(stats.Average)
	}
	for _, images := range imgList {
		for _, img := range images {
			for ch, s := range stat {
				for _, val := range img.Pixels(ch) {
					s.Add(float64(val))
				}
			}
		}
	}
	mean = make([]float32, 3)
	std = make([]float32, 3)
	for i, s := range stat {
		mean[i] = float32(s.Mean)
		std[i] = float32(s.StdDev)
	}
	klog.V(1).Infof("mean = %.2f stddev = %.2f", mean, std)
	return mean, std
}
