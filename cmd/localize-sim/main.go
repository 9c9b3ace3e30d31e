// Command localize-sim drives the pose estimator with a simulated vehicle
// and reports how closely the estimate tracks ground truth.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/lidarloc/internal/config"
	"github.com/banshee-data/lidarloc/internal/lidar/registration"
	"github.com/banshee-data/lidarloc/internal/localization"
	"github.com/banshee-data/lidarloc/internal/monitor"
	"github.com/banshee-data/lidarloc/internal/monitoring"
	"github.com/banshee-data/lidarloc/internal/security"
	"github.com/banshee-data/lidarloc/internal/sim"
	"github.com/banshee-data/lidarloc/internal/trajectory"
	"github.com/banshee-data/lidarloc/internal/version"
)

// options holds the parsed command line.
type options struct {
	configPath string
	dbPath     string
	outDir     string
	duration   time.Duration
	seed       int64
	matcher    string
	label      string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to localization config JSON (defaults built in)")
	flag.StringVar(&opts.dbPath, "db", "", "SQLite file to record the run in (optional)")
	flag.StringVar(&opts.outDir, "out", "plots", "Directory for trajectory plots and charts")
	flag.DurationVar(&opts.duration, "duration", 30*time.Second, "Simulated duration")
	flag.Int64Var(&opts.seed, "seed", 1, "Random seed for the simulated world")
	flag.StringVar(&opts.matcher, "matcher", "icp", "Scan matcher: icp or truth")
	flag.StringVar(&opts.label, "label", "", "Run label (defaults to matcher and seed)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("localize-sim"))
		return
	}
	monitoring.SetDebug(*debug)

	if err := run(opts); err != nil {
		log.Fatal(err)
	}
}

// run executes one simulated scenario. Resources opened here are released
// before it returns, including on error.
func run(opts options) error {
	cfg := config.DefaultLocalizationConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadLocalizationConfig(opts.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	simCfg := sim.DefaultConfig()
	simCfg.Seed = opts.seed
	start := time.Now().UTC().Truncate(time.Second)
	world, err := sim.NewWorld(simCfg, start)
	if err != nil {
		return fmt.Errorf("failed to build world: %w", err)
	}

	var scanStamp time.Time
	var matcher registration.Matcher
	switch opts.matcher {
	case "icp":
		icp, err := registration.NewICP(world.Map(), registration.ICPConfigFromLocalization(cfg))
		if err != nil {
			return fmt.Errorf("failed to index map: %w", err)
		}
		log.Printf("Indexed map with %d points", icp.Size())
		matcher = icp
	case "truth":
		matcher = world.TruthMatcher(func() time.Time { return scanStamp })
	default:
		return fmt.Errorf("unknown matcher %q (want icp or truth)", opts.matcher)
	}

	label := opts.label
	if label == "" {
		label = fmt.Sprintf("%s-seed%d", opts.matcher, opts.seed)
	}

	rec := &memoryRecorder{}
	recorders := fanout{rec}
	var trajRun *trajectory.Run
	if opts.dbPath != "" {
		store, err := trajectory.Open(opts.dbPath)
		if err != nil {
			return fmt.Errorf("failed to open trajectory database: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("Failed to close trajectory database: %v", err)
			}
		}()
		params, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		trajRun, err = store.StartRun(label, params, start)
		if err != nil {
			return fmt.Errorf("failed to start run: %w", err)
		}
		log.Printf("Recording run %s to %s", trajRun.ID, opts.dbPath)
		recorders = append(recorders, trajRun)
	}

	svc, err := localization.NewService(matcher, localization.ServiceConfigFromLocalization(cfg), localization.WithRecorder(recorders))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	startPose := world.Truth(start)
	if err := svc.Reset(start, startPose.Position(), startPose.Quaternion()); err != nil {
		return fmt.Errorf("failed to initialize estimator: %w", err)
	}

	var truth []trajectory.TruthSample
	var failures int
	err = world.Run(opts.duration, func(ev sim.Event) error {
		switch ev.Kind {
		case sim.EventIMU:
			return svc.HandleIMU(ev.Stamp, ev.Acc, ev.Gyro)
		case sim.EventOdometry:
			return svc.HandleOdometry(ev.Stamp, ev.Pose)
		case sim.EventScan:
			scanStamp = ev.Stamp
			ts := trajectory.TruthSample{Stamp: ev.Stamp, Position: world.Truth(ev.Stamp).Position()}
			truth = append(truth, ts)
			if trajRun != nil {
				if err := trajRun.RecordTruth(ts.Stamp, ts.Position); err != nil {
					return err
				}
			}
			if _, err := svc.HandleCloud(ev.Stamp, ev.Cloud); err != nil {
				// Registration failures are logged by the service; keep going.
				failures++
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	snap := svc.Snapshot()
	log.Printf("Finished %s: %d corrections, %d failed, mode=%s", label, snap.Corrections, failures, snap.Mode)

	corrections := make([]localization.Sample, 0, len(rec.samples))
	for _, s := range rec.samples {
		if s.Kind == localization.SampleCorrect {
			corrections = append(corrections, s)
		}
	}
	acc, err := monitor.Evaluate(corrections, truth)
	if err != nil {
		return fmt.Errorf("failed to evaluate trajectory: %w", err)
	}
	log.Printf("Position error over %d corrections: rmse=%.3fm mean=%.3fm max=%.3fm", acc.Samples, acc.RMSE, acc.MeanError, acc.MaxError)

	if err := writeReports(opts.outDir, label, rec.samples, truth, acc); err != nil {
		return fmt.Errorf("failed to write reports: %w", err)
	}
	log.Printf("Wrote plots to %s", opts.outDir)
	return nil
}

func writeReports(dir, label string, samples []localization.Sample, truth []trajectory.TruthSample, acc monitor.Accuracy) error {
	name := security.SanitizeFilename(label)
	if err := monitor.PlotTrajectory(filepath.Join(dir, name+"_trajectory.png"), label, samples, truth); err != nil {
		return err
	}
	if err := monitor.PlotErrors(filepath.Join(dir, name+"_errors.png"), label, acc); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, name+".html"))
	if err != nil {
		return fmt.Errorf("failed to create chart file: %w", err)
	}
	defer f.Close()
	return monitor.RenderTrajectoryChart(f, label, samples, truth, acc)
}

// memoryRecorder keeps every sample for plotting.
type memoryRecorder struct {
	samples []localization.Sample
}

func (r *memoryRecorder) Record(s localization.Sample) error {
	r.samples = append(r.samples, s)
	return nil
}

// fanout forwards each sample to every recorder, stopping at the first error.
type fanout []localization.Recorder

func (f fanout) Record(s localization.Sample) error {
	for _, r := range f {
		if err := r.Record(s); err != nil {
			return err
		}
	}
	return nil
}
