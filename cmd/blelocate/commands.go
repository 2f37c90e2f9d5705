package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/blelocate/internal/ble"
	"github.com/banshee-data/blelocate/internal/config"
	"github.com/banshee-data/blelocate/internal/db"
	"github.com/banshee-data/blelocate/internal/export"
	"github.com/banshee-data/blelocate/internal/fsutil"
	"github.com/banshee-data/blelocate/internal/ingest"
	"github.com/banshee-data/blelocate/internal/modelstore"
	"github.com/banshee-data/blelocate/internal/pipeline"
)

// pipelineFlags are shared by every command that runs the pipeline.
type pipelineFlags struct {
	config *string
	env    *string
	db     *string
	from   *string
	to     *string
}

func addPipelineFlags(fs *flag.FlagSet) *pipelineFlags {
	return &pipelineFlags{
		config: fs.String("config", "", "Pipeline configuration file (required)"),
		env:    fs.String("env", "", "Optional .env file with BLELOCATE_* overrides"),
		db:     fs.String("db", "", "SQLite database (overrides config)"),
		from:   fs.String("from", "", "Only readings at or after this RFC 3339 time"),
		to:     fs.String("to", "", "Only readings before this RFC 3339 time"),
	}
}

// session is an opened database plus the resolved configuration.
type session struct {
	file  *config.PipelineConfig
	cfg   pipeline.Config
	db    *db.DB
	coord *pipeline.Coordinator
}

func (f *pipelineFlags) open() (*session, error) {
	if *f.config == "" {
		return nil, fmt.Errorf("-config is required")
	}
	file, err := config.LoadPipelineConfig(*f.config)
	if err != nil {
		return nil, err
	}
	if err := file.ApplyEnvFile(*f.env); err != nil {
		return nil, err
	}
	if *f.db != "" {
		file.DBPath = f.db
	}
	cfg, err := file.ToPipeline()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	database, err := db.NewDB(file.GetDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store := modelstore.New(fsutil.OSFileSystem{}, file.GetModelRoot())
	return &session{
		file:  file,
		cfg:   cfg,
		db:    database,
		coord: pipeline.NewCoordinator(store, database),
	}, nil
}

func (s *session) Close() error { return s.db.Close() }

func (f *pipelineFlags) filter(cfg pipeline.Config) (db.ReadingFilter, error) {
	filter := db.ReadingFilter{Beacons: cfg.Beacons.IDs()}
	var err error
	if *f.from != "" {
		if filter.From, err = time.Parse(time.RFC3339, *f.from); err != nil {
			return filter, fmt.Errorf("invalid -from: %w", err)
		}
	}
	if *f.to != "" {
		if filter.To, err = time.Parse(time.RFC3339, *f.to); err != nil {
			return filter, fmt.Errorf("invalid -to: %w", err)
		}
	}
	return filter, nil
}

func (s *session) readings(ctx context.Context, f *pipelineFlags) ([]ble.Reading, error) {
	filter, err := f.filter(s.cfg)
	if err != nil {
		return nil, err
	}
	readings, err := s.db.Readings(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, fmt.Errorf("%w: no readings for the configured beacons", ble.ErrInsufficientData)
	}
	return readings, nil
}

// outputFlags select where reduced vectors are written.
type outputFlags struct {
	csv   *string
	npy   *string
	plot  *string
	chart *string
}

func addOutputFlags(fs *flag.FlagSet) *outputFlags {
	return &outputFlags{
		csv:   fs.String("out", "", "Reduced features CSV (- for stdout)"),
		npy:   fs.String("npy", "", "Reduced features as a numpy .npy matrix"),
		plot:  fs.String("plot", "", "PNG scatter of the first two components"),
		chart: fs.String("chart", "", "HTML scatter of the first two components"),
	}
}

func (o *outputFlags) write(stdout io.Writer, title string, reduced []ble.LabeledVector) error {
	if *o.csv != "" {
		if err := writeTo(*o.csv, stdout, func(w io.Writer) error { return export.WriteReduced(w, reduced) }); err != nil {
			return err
		}
	}
	if *o.npy != "" {
		vectors := make([]ble.FeatureVector, len(reduced))
		for i, v := range reduced {
			vectors[i] = v.Vector
		}
		if err := export.WriteNpy(*o.npy, vectors); err != nil {
			return err
		}
	}
	if *o.plot != "" {
		if err := writeTo(*o.plot, stdout, func(w io.Writer) error { return export.WriteScatterPNG(w, title, reduced) }); err != nil {
			return err
		}
	}
	if *o.chart != "" {
		if err := writeTo(*o.chart, stdout, func(w io.Writer) error { return export.WriteScatterHTML(w, title, reduced) }); err != nil {
			return err
		}
	}
	return nil
}

// writeTo runs write against path, or stdout when path is "-".
func writeTo(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "-" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

func runImport(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dbPath := fs.String("db", config.DefaultDBPath, "SQLite database")
	label := fs.String("label", "", "Override the label of every row")
	tz := fs.String("tz", "UTC", "Time zone of timestamps written without one")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("no capture files given")
	}
	loc, err := time.LoadLocation(*tz)
	if err != nil {
		return fmt.Errorf("invalid -tz: %w", err)
	}
	database, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	for _, path := range fs.Args() {
		readings, err := ingest.ReadFile(path, ingest.Options{Location: loc, Label: *label})
		if err != nil {
			return err
		}
		if err := database.RecordReadings(ctx, readings); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(stdout, "imported %d readings from %s\n", len(readings), path)
	}
	return nil
}

func runWindow(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("window", flag.ExitOnError)
	pf := addPipelineFlags(fs)
	out := fs.String("out", "-", "Windowed features CSV (- for stdout)")
	fs.Parse(args)

	s, err := pf.open()
	if err != nil {
		return err
	}
	defer s.Close()

	readings, err := s.readings(ctx, pf)
	if err != nil {
		return err
	}
	windows, err := s.cfg.Window(readings)
	if err != nil {
		return err
	}
	return writeTo(*out, stdout, func(w io.Writer) error {
		return export.WriteWindows(w, s.cfg.Beacons, windows)
	})
}

func runFit(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("fit", flag.ExitOnError)
	pf := addPipelineFlags(fs)
	fromReadings := fs.Bool("labels-from-readings", false, "Ignore the config's tag labels and use the label column")
	of := addOutputFlags(fs)
	fs.Parse(args)

	s, err := pf.open()
	if err != nil {
		return err
	}
	defer s.Close()
	if *fromReadings {
		s.cfg.Labels = nil
	}

	readings, err := s.readings(ctx, pf)
	if err != nil {
		return err
	}
	res, err := s.coord.Fit(ctx, readings, s.cfg)
	if err != nil {
		return err
	}
	red := res.Models.Reducer
	fmt.Fprintf(stdout, "fitted %s t=%s run=%s\n", red.Method, s.cfg.TimeWindow, red.RunID)
	fmt.Fprintf(stdout, "windows=%d sampled=%d components=%d\n", len(res.Windows), res.Sampled, red.OutputDim)
	fmt.Fprintf(stdout, "explained variance ratio: %s\n", formatRatios(red.Linear.ExplainedVarianceRatio))
	return of.write(stdout, fmt.Sprintf("%s t=%s", red.Method, s.cfg.TimeWindow), res.Reduced)
}

func formatRatios(r []float64) string {
	parts := make([]string, len(r))
	for i, v := range r {
		parts[i] = fmt.Sprintf("C%d=%.4f", i, v)
	}
	return strings.Join(parts, " ")
}

func runApply(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	pf := addPipelineFlags(fs)
	of := addOutputFlags(fs)
	fs.Parse(args)
	if *of.csv == "" && *of.npy == "" && *of.plot == "" && *of.chart == "" {
		*of.csv = "-"
	}

	s, err := pf.open()
	if err != nil {
		return err
	}
	defer s.Close()

	readings, err := s.readings(ctx, pf)
	if err != nil {
		return err
	}
	reduced, err := s.coord.Apply(readings, s.cfg)
	if err != nil {
		return err
	}
	return of.write(stdout, fmt.Sprintf("%s t=%s", s.cfg.Method(), s.cfg.TimeWindow), reduced)
}

func runLocalize(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("localize", flag.ExitOnError)
	pf := addPipelineFlags(fs)
	interval := fs.Duration("interval", 0, "Cycle interval (default from config)")
	metricsListen := fs.String("metrics-listen", "", "Serve /metrics and /api/latest on this address")
	fs.Parse(args)

	s, err := pf.open()
	if err != nil {
		return err
	}
	defer s.Close()

	every := *interval
	if every == 0 {
		every = s.file.GetLocalizeInterval()
	}

	last := &latest{method: s.cfg.Method(), window: s.cfg.TimeWindow}
	if *metricsListen != "" {
		server := &http.Server{Addr: *metricsListen, Handler: statusMux(last)}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("metrics server shutdown error: %v", err)
			}
		}()
	}

	loc := pipeline.NewLocalizer(s.coord, s.db, s.cfg, every)
	loc.OnResult = func(end time.Time, out []ble.LabeledVector) {
		last.update(end, out)
		for _, v := range out {
			fmt.Fprintf(stdout, "%s tag=%d %v\n", end.Format(time.RFC3339), v.Stream.Tag, []float64(v.Vector))
		}
	}
	log.Printf("localize %s t=%s every %s", s.cfg.Method(), s.cfg.TimeWindow, every)
	return loc.Run(ctx)
}

// statusMux serves Prometheus metrics and the latest localize result.
func statusMux(last *latest) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/latest", last)
	return mux
}

func runPrune(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	dbPath := fs.String("db", config.DefaultDBPath, "SQLite database")
	before := fs.Duration("before", 0, "Delete readings older than this age, e.g. 720h")
	fs.Parse(args)

	if *before <= 0 {
		return fmt.Errorf("-before must be a positive duration")
	}
	database, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	cutoff := time.Now().Add(-*before)
	n, err := database.PruneReadings(ctx, cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "pruned %d readings before %s\n", n, cutoff.UTC().Format(time.RFC3339))
	return nil
}

func runRuns(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dbPath := fs.String("db", config.DefaultDBPath, "SQLite database")
	limit := fs.Int("limit", 20, "Number of runs to list")
	fs.Parse(args)

	database, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	runs, err := database.FitRuns(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tVERSION\tMETHOD\tWINDOW\tRECORDS\tDIMS\tSTATUS\tRUN")
	for _, r := range runs {
		status := r.Status
		if r.Error != "" {
			status += ": " + r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d->%d\t%s\t%s\n",
			r.Started.Format(time.RFC3339), r.Version, r.Method, r.TimeWindow,
			r.RecordCount, r.InputDim, r.OutputDim, status, r.RunID)
	}
	return tw.Flush()
}
