package img

import (
	"bufio"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Layout of the data directory
const (
	FilesDir   = "files"
	LabelsFile = "labels.txt"
)

// Label file modes
const (
	Positional = "positional"
	Keyed      = "keyed"
)

// LoadOptions sets the size images are scaled to and how labels are matched to images.
type LoadOptions struct {
	Width   int
	Height  int
	Labels  string
	Threads int
}

// Load reads all images under dir/files in file name order together with their labels from
// dir/labels.txt. In Positional mode the first field of line i is the label for image i; in
// Keyed mode each line has a label followed by the image file name. Each image is scaled to
// Width x Height and the pixel values are in the range 0-1.
func Load(dir string, opts LoadOptions) (*Data, error) {
	if opts.Width < 1 || opts.Height < 1 {
		return nil, errors.Errorf("invalid image size %dx%d", opts.Width, opts.Height)
	}
	names, err := listFiles(filepath.Join(dir, FilesDir))
	if err != nil {
		return nil, err
	}
	labels, err := readLabels(filepath.Join(dir, LabelsFile), names, opts.Labels)
	if err != nil {
		return nil, err
	}
	images := make([]*Image, len(names))
	var g errgroup.Group
	g.SetLimit(max(opts.Threads, 1))
	for i, name := range names {
		i, path := i, filepath.Join(dir, FilesDir, name)
		g.Go(func() (err error) {
			images[i], err = loadImage(path, opts.Width, opts.Height)
			return err
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}
	klog.Infof("loaded %d images from %s", len(images), dir)
	return NewData(names, labels, images)
}

// sorted list of regular files in the directory
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read image directory")
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, errors.Errorf("no images found in %s", dir)
	}
	return names, nil
}

func readLabels(path string, names []string, mode string) ([]int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read labels")
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	labels := make([]int32, len(names))
	lineNo := 0
	switch mode {
	case Positional, "":
		for i, name := range names {
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return nil, errors.Wrap(err, "read labels")
				}
				return nil, errors.Errorf("%s: ran out of labels at image %d (%s): have %d labels for %d images",
					path, i, name, i, len(names))
			}
			lineNo++
			if labels[i], err = parseLabel(strings.Fields(scanner.Text()), path, lineNo); err != nil {
				return nil, err
			}
		}
		for scanner.Scan() {
			lineNo++
			if strings.TrimSpace(scanner.Text()) != "" {
				return nil, errors.Errorf("%s:%d: more labels than the %d images", path, lineNo, len(names))
			}
		}
	case Keyed:
		index := make(map[string]int, len(names))
		for i, name := range names {
			index[name] = i
		}
		found := make([]bool, len(names))
		for scanner.Scan() {
			lineNo++
			fields := strings.Fields(scanner.Text())
			if len(fields) == 0 {
				continue
			}
			if len(fields) < 2 {
				return nil, errors.Errorf("%s:%d: expecting label and file name", path, lineNo)
			}
			i, ok := index[fields[1]]
			if !ok {
				return nil, errors.Errorf("%s:%d: no image named %s", path, lineNo, fields[1])
			}
			if found[i] {
				return nil, errors.Errorf("%s:%d: duplicate label for %s", path, lineNo, fields[1])
			}
			if labels[i], err = parseLabel(fields, path, lineNo); err != nil {
				return nil, err
			}
			found[i] = true
		}
		for i, ok := range found {
			if !ok {
				return nil, errors.Errorf("%s: no label for image %s", path, names[i])
			}
		}
	default:
		return nil, errors.Errorf("invalid label mode %q", mode)
	}
	return labels, errors.Wrap(scanner.Err(), "read labels")
}

func parseLabel(fields []string, path string, lineNo int) (int32, error) {
	if len(fields) == 0 {
		return 0, errors.Errorf("%s:%d: missing label", path, lineNo)
	}
	label, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, errors.Wrapf(err, "%s:%d: invalid label", path, lineNo)
	}
	if label != 0 && label != 1 {
		return 0, errors.Errorf("%s:%d: label %d must be 0 or 1", path, lineNo, label)
	}
	return int32(label), nil
}

// decode image file and scale to the given size
func loadImage(path string, width, height int) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "load image")
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Rect, src, src.Bounds(), draw.Src, nil)
	return Convert(dst), nil
}
