package nnet

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JuanCldCmt/ML-mini-project/img"
)

// writes n images to dir/files with a positional labels file: red images are labelled smiling
// and blue images not smiling
func writeDataDir(t *testing.T, dir string, n int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, img.FilesDir), 0755); err != nil {
		t.Fatal(err)
	}
	var labels []string
	for i := 0; i < n; i++ {
		m := image.NewRGBA(image.Rect(0, 0, 24, 24))
		c := color.RGBA{B: 220, A: 255}
		if i%2 == 1 {
			c = color.RGBA{R: 220, A: 255}
		}
		for y := 0; y < 24; y++ {
			for x := 0; x < 24; x++ {
				m.Set(x, y, c)
			}
		}
		f, err := os.Create(filepath.Join(dir, img.FilesDir, fmt.Sprintf("face%02d.png", i)))
		if err != nil {
			t.Fatal(err)
		}
		if err = png.Encode(f, m); err != nil {
			t.Fatal(err)
		}
		f.Close()
		labels = append(labels, fmt.Sprint(i%2))
	}
	err := os.WriteFile(filepath.Join(dir, img.LabelsFile), []byte(strings.Join(labels, "\n")+"\n"), 0644)
	if err != nil {
		t.Fatal(err)
	}
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeDataDir(t, dir, 10)
	conf := testConfig(t)
	conf.MaxEpoch = 5
	conf.TrainBatch = 2
	conf.TestBatch = 2
	conf.Shuffle = true
	rng := SetSeed(42)

	data, err := img.Load(dir, img.LoadOptions{Width: conf.ImageWidth, Height: conf.ImageHeight, Labels: img.Positional})
	if err != nil {
		t.Fatal(err)
	}
	trainData, testData, err := Split(data, conf.TestSize, rng)
	if err != nil {
		t.Fatal(err)
	}
	if trainData.Len()+testData.Len() != 10 {
		t.Fatalf("split %d + %d", trainData.Len(), testData.Len())
	}
	train := NewDataset(trainData, conf.TrainBatch, rng)
	test := NewDataset(testData, conf.TestBatch, nil)
	net := newTestNet(t, conf, rng)
	sink := &testSink{}
	tr, err := NewTrainer(net, train, test, sink)
	if err != nil {
		t.Fatal(err)
	}
	tr.Render = img.PredictionGrid
	if err = tr.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	ckpt := filepath.Join(conf.CheckpointDir, "2.ckpt")
	if _, err := os.Stat(ckpt); err != nil {
		t.Errorf("checkpoint: %v", err)
	}
	output := filepath.Join(dir, "smile.ckpt")
	if _, err = tr.SaveModel(output, time.Now()); err != nil {
		t.Fatal(err)
	}
	saved, err := LoadCheckpoint(output)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Epoch != conf.MaxEpoch-1 {
		t.Errorf("saved model epoch %d", saved.Epoch)
	}
	net2, err := saved.Network(conf)
	if err != nil {
		t.Fatal(err)
	}
	_, p1, _ := Predict(net, test)
	_, p2, _ := Predict(net2, test)
	for i := range p1 {
		if p1[i] != p2[i] {
			t.Fatalf("saved model predictions differ: %v %v", p1, p2)
		}
	}

	_, acc, err := Evaluate(net, test)
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("held out accuracy %.1f%%", acc)
	if acc < 50 {
		t.Errorf("held out accuracy %.1f%% is below 50%%", acc)
	}
}
