// The smile command trains the smiling / not smiling image classifier, or evaluates a saved
// checkpoint with the -eval flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/JuanCldCmt/ML-mini-project/img"
	"github.com/JuanCldCmt/ML-mini-project/nnet"
	"github.com/JuanCldCmt/ML-mini-project/stats"
	"github.com/JuanCldCmt/ML-mini-project/web"
	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// flags which override a config file setting, mapped to the config field name
var configFlags = map[string]string{
	"epochs":   "MaxEpoch",
	"batch":    "TrainBatch",
	"eta":      "Eta",
	"seed":     "RandSeed",
	"width":    "ImageWidth",
	"height":   "ImageHeight",
	"test":     "TestSize",
	"ckpt-dir": "CheckpointDir",
	"nosave":   "NoSave",
	"labels":   "LabelMode",
	"distort":  "Distort",
	"threads":  "Threads",
	"minloss":  "MinLoss",
}

type options struct {
	configFile string
	webAddr    string
	user       string
	password   string
	runsDir    string
	cacheFile  string
	evalFile   string
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: smile [opts] data_directory [output_model_file]\n")
	fmt.Fprintf(flag.CommandLine.Output(), "       smile [opts] -eval checkpoint data_directory\n")
	flag.PrintDefaults()
}

func main() {
	klog.InitFlags(nil)
	conf := nnet.DefaultConfig()
	var opts options
	flag.StringVar(&opts.configFile, "config", "", "JSON config file")
	flag.IntVar(&conf.MaxEpoch, "epochs", conf.MaxEpoch, "max epochs")
	flag.IntVar(&conf.TrainBatch, "batch", conf.TrainBatch, "train batch size")
	flag.Float64Var(&conf.Eta, "eta", conf.Eta, "learning rate")
	flag.Int64Var(&conf.RandSeed, "seed", conf.RandSeed, "random number seed, <= 0 for time based seed")
	flag.IntVar(&conf.ImageWidth, "width", conf.ImageWidth, "image width after scaling")
	flag.IntVar(&conf.ImageHeight, "height", conf.ImageHeight, "image height after scaling")
	flag.Float64Var(&conf.TestSize, "test", conf.TestSize, "fraction of samples held out for evaluation")
	flag.StringVar(&conf.CheckpointDir, "ckpt-dir", conf.CheckpointDir, "checkpoint directory")
	flag.BoolVar(&conf.NoSave, "nosave", conf.NoSave, "don't write checkpoints")
	flag.StringVar(&conf.LabelMode, "labels", conf.LabelMode, "label file format: positional or keyed")
	flag.BoolVar(&conf.Distort, "distort", conf.Distort, "apply random flips and shifts to training images")
	flag.IntVar(&conf.Threads, "threads", conf.Threads, "number of worker threads")
	flag.Float64Var(&conf.MinLoss, "minloss", conf.MinLoss, "stop when training loss falls below this value")
	flag.StringVar(&opts.webAddr, "web", "", "serve training monitor at this address, e.g. :8080")
	flag.StringVar(&opts.user, "user", "", "user name for monitor basic auth")
	flag.StringVar(&opts.password, "password", os.Getenv("SMILE_PASSWORD"), "password for monitor basic auth")
	flag.StringVar(&opts.runsDir, "runs", "runs", "directory for event logs, blank to disable")
	flag.StringVar(&opts.cacheFile, "cache", "", "cache decoded images in this file")
	flag.StringVar(&opts.evalFile, "eval", "", "evaluate this checkpoint instead of training")
	flag.Usage = usage
	flag.Parse()
	defer klog.Flush()

	args := flag.Args()
	if (opts.evalFile != "" && len(args) != 1) || len(args) < 1 || len(args) > 2 {
		flag.Usage()
		os.Exit(2)
	}
	if opts.configFile != "" {
		var err error
		if conf, err = loadConfig(opts.configFile); err != nil {
			klog.Exit(err)
		}
	}
	if err := conf.Validate(); err != nil {
		klog.Exit(err)
	}
	klog.Infof("%s: %d physical cores, %d threads", cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, conf.Threads)
	klog.V(1).Infof("CPU features: %s", strings.Join(cpuid.CPU.FeatureSet(), ","))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var err error
	if opts.evalFile != "" {
		err = evaluate(conf, opts, args[0])
	} else {
		output := ""
		if len(args) == 2 {
			output = args[1]
		}
		err = train(ctx, conf, opts, args[0], output)
	}
	if err != nil {
		klog.Exit(err)
	}
}

// load config file and then reapply any settings given on the command line
func loadConfig(name string) (nnet.Config, error) {
	conf, err := nnet.LoadConfig(name)
	if err != nil {
		return conf, err
	}
	flag.Visit(func(f *flag.Flag) {
		if field, ok := configFlags[f.Name]; ok && err == nil {
			conf, err = conf.SetString(field, f.Value.String())
		}
	})
	return conf, err
}

// load images from the data directory, or from the cache file if it has the right image size
func loadData(conf nnet.Config, dir, cacheFile string) (*img.Data, error) {
	if cacheFile != "" {
		if data, err := img.LoadFile(cacheFile); err == nil {
			if d := data.Shape(); d[1] == conf.ImageHeight && d[2] == conf.ImageWidth {
				klog.Infof("loaded %d images from cache %s", data.Len(), cacheFile)
				logStats(data)
				return data, nil
			}
			klog.Infof("cache %s has image size %v - reloading", cacheFile, data.Shape())
		} else if !os.IsNotExist(errors.Cause(err)) {
			klog.Warningf("ignoring cache: %v", err)
		}
	}
	data, err := img.Load(dir, img.LoadOptions{
		Width:   conf.ImageWidth,
		Height:  conf.ImageHeight,
		Labels:  conf.LabelMode,
		Threads: conf.Threads,
	})
	if err != nil {
		return nil, err
	}
	logStats(data)
	if cacheFile != "" {
		if err = data.SaveFile(cacheFile); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func logStats(data *img.Data) {
	mean, std := data.ChannelStats()
	klog.Infof("RGB channel mean = %.3f  stddev = %.3f", mean, std)
}

func train(ctx context.Context, conf nnet.Config, opts options, dataDir, output string) error {
	rng := nnet.SetSeed(conf.RandSeed)
	data, err := loadData(conf, dataDir, opts.cacheFile)
	if err != nil {
		return err
	}
	trainData, testData, err := nnet.Split(data, conf.TestSize, rng)
	if err != nil {
		return err
	}
	klog.Infof("train samples: %d  test samples: %d", trainData.Len(), testData.Len())
	trainSet := nnet.NewDataset(trainData, conf.TrainBatch, rng)
	testSet := nnet.NewDataset(testData, conf.TestBatch, nil)
	if conf.Distort {
		trainSet.Transform = img.NewTransformer(conf.ImageWidth, conf.ImageHeight, img.Distortions, rng)
	}

	net, err := nnet.New(conf, data.Shape())
	if err != nil {
		return err
	}
	net.InitWeights(rng)
	klog.Info(net)

	runID := uuid.NewString()
	sinks := nnet.MultiSink{nnet.LogSink{}}
	if opts.runsDir != "" {
		elog, err := web.NewEventLog(opts.runsDir, runID)
		if err != nil {
			return err
		}
		defer elog.Close()
		sinks = append(sinks, elog)
	}
	var mon *web.Monitor
	var server *web.Server
	if opts.webAddr != "" {
		mon = web.NewMonitor(runID, conf)
		sinks = append(sinks, mon)
		server, err = web.NewServer(mon, web.Options{
			Addr:       opts.webAddr,
			User:       opts.user,
			Password:   opts.password,
			ConfigFile: opts.configFile,
		})
		if err != nil {
			return err
		}
	}
	trainer, err := nnet.NewTrainer(net, trainSet, testSet, sinks)
	if err != nil {
		return err
	}
	trainer.RunID = runID
	trainer.Render = img.PredictionGrid
	klog.Infof("run id %s", runID)

	g, gctx := errgroup.WithContext(ctx)
	if server != nil {
		g.Go(func() error { return server.Run(gctx) })
	}
	g.Go(func() error {
		err := trainer.Run(gctx)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			klog.Warning("training interrupted")
			err = nil
		}
		if err == nil && output != "" {
			_, err = trainer.SaveModel(output, time.Now())
		}
		if mon != nil {
			mon.Finish()
			klog.Info("training complete - serving results until interrupted")
		}
		return err
	})
	return g.Wait()
}

func evaluate(conf nnet.Config, opts options, dataDir string) error {
	ckpt, err := nnet.LoadCheckpoint(opts.evalFile)
	if err != nil {
		return err
	}
	if len(ckpt.Input) != 3 {
		return errors.Wrapf(nnet.ErrShape, "checkpoint input shape %v", ckpt.Input)
	}
	conf.ImageHeight, conf.ImageWidth = ckpt.Input[1], ckpt.Input[2]
	net, err := ckpt.Network(conf)
	if err != nil {
		return err
	}
	klog.Infof("loaded checkpoint %s: run %s epoch %d", opts.evalFile, ckpt.RunID, ckpt.Epoch+1)
	data, err := loadData(conf, dataDir, opts.cacheFile)
	if err != nil {
		return err
	}
	dset := nnet.NewDataset(data, conf.TestBatch, nil)
	loss, acc, err := nnet.Evaluate(net, dset)
	if err != nil {
		return err
	}
	labels, probs, err := nnet.Predict(net, dset)
	if err != nil {
		return err
	}
	roc := stats.ROC(labels, probs)
	fmt.Printf("samples: %d  loss: %.4f  accuracy: %.2f%%\n", dset.Samples, loss, acc)
	fmt.Printf("ROC AUC: %.4f  average precision: %.4f\n\n", stats.AUC(roc), stats.AveragePrecision(labels, probs))
	fmt.Println(stats.FormatSweep(stats.ConfusionSweep(labels, probs)))

	if opts.runsDir == "" {
		return nil
	}
	dir := filepath.Join(opts.runsDir, "eval-"+ckpt.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.WithStack(err)
	}
	if err := writeCurve(filepath.Join(dir, "roc.svg"), roc, "ROC curve", "false positive rate", "true positive rate", true); err != nil {
		return err
	}
	pr := stats.PrecisionRecall(labels, probs)
	if err := writeCurve(filepath.Join(dir, "pr.svg"), pr, "precision vs recall", "recall", "precision", false); err != nil {
		return err
	}
	klog.Infof("saved plots to %s", dir)
	return nil
}

func writeCurve(file string, c stats.Curve, title, xlabel, ylabel string, diagonal bool) error {
	f, err := os.Create(file)
	if err != nil {
		return errors.WithStack(err)
	}
	if err = web.CurvePlot(f, c, title, xlabel, ylabel, diagonal, 500, 500); err != nil {
		f.Close()
		return err
	}
	return errors.WithStack(f.Close())
}
