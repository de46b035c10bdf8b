package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/san-kum/cadsim/internal/config"
	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/engine"
	"github.com/san-kum/cadsim/internal/experiment"
	"github.com/san-kum/cadsim/internal/export"
	"github.com/san-kum/cadsim/internal/logger"
	_ "github.com/san-kum/cadsim/internal/models"
	"github.com/san-kum/cadsim/internal/storage"
	"github.com/san-kum/cadsim/internal/tui"
	"github.com/san-kum/cadsim/internal/viz"
)

var (
	dataDir    string
	storeKind  string
	logLevel   string
	configFile string
	engineFile string
	preset     string
	backend    string
	processes  int
	runs       int
	timesteps  int
	noRaise    bool
	noStore    bool
	live       bool
	variable   string
	plotRuns   int
	plotHeight int
	plotWidth  int
	svgPath    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "cadsim",
		Short:         "parameter sweep and monte carlo simulation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".cadsim", "data directory")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "file", "result store (file, sqlite)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run [model]",
		Short: "run an experiment",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExperiment,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "experiment file (yaml or hcl)")
	runCmd.Flags().StringVar(&engineFile, "engine", "", "engine configuration file (see engine init)")
	runCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	runCmd.Flags().StringVar(&backend, "backend", "", "executor backend")
	runCmd.Flags().IntVar(&processes, "processes", 0, "parallel workers")
	runCmd.Flags().IntVar(&runs, "runs", 0, "monte carlo runs per simulation")
	runCmd.Flags().IntVar(&timesteps, "timesteps", 0, "timesteps per run")
	runCmd.Flags().BoolVar(&noRaise, "no-raise", false, "capture failed runs instead of aborting")
	runCmd.Flags().BoolVar(&noStore, "no-store", false, "do not persist results")
	runCmd.Flags().BoolVar(&live, "live", false, "show dispatch progress")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored experiments",
		RunE:  listExperiments,
	}

	showCmd := &cobra.Command{
		Use:   "show [experiment_id]",
		Short: "show a stored experiment",
		Args:  cobra.ExactArgs(1),
		RunE:  showExperiment,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [experiment_id]",
		Short: "plot a state variable of a stored experiment",
		Args:  cobra.ExactArgs(1),
		RunE:  plotExperiment,
	}
	plotCmd.Flags().StringVar(&variable, "var", "", "state variable (default: first numeric)")
	plotCmd.Flags().IntVar(&plotRuns, "runs", 6, "maximum runs to plot")
	plotCmd.Flags().IntVar(&plotHeight, "height", 12, "plot height")
	plotCmd.Flags().IntVar(&plotWidth, "width", 80, "plot width")
	plotCmd.Flags().StringVar(&svgPath, "svg", "", "also write the plot as svg")

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list registered models and their presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range experiment.DefaultRegistry.ListModels() {
				fmt.Printf("%s %s\n", viz.Title.Render(name),
					viz.Subtle.Render(strings.Join(config.ListPresets(name), ", ")))
			}
			return nil
		},
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list available presets for a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for model: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				spec := config.GetPreset(args[0], p)
				fmt.Printf("  %-10s %d timesteps x %d runs\n", p, spec.Timesteps, spec.Runs)
			}
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, listCmd, showCmd, plotCmd, modelsCmd, presetsCmd,
		bestCmd(), scenarioCmd(), engineCmd(), workerCmd(), agentCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, viz.StatusFailed.Render("error:"), err)
		stop()
		os.Exit(1)
	}
}

func newLogger(cfg *config.Engine) *slog.Logger {
	level := logLevel
	if level == "" && cfg != nil {
		level = cfg.LogLevel
	}
	return logger.NewText(level, os.Stderr)
}

// loadExperimentFile resolves the experiment to run from --config, --preset
// or a bare model name, then applies the command line overrides.
func loadExperimentFile(cmd *cobra.Command, args []string) (*config.ExperimentFile, error) {
	var f *config.ExperimentFile
	switch {
	case configFile != "":
		loaded, err := config.LoadExperiment(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		f = loaded
	case len(args) == 1:
		spec := &config.SimulationSpec{Model: args[0]}
		if preset != "" {
			spec = config.GetPreset(args[0], preset)
			if spec == nil {
				return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(args[0]))
			}
		}
		f = &config.ExperimentFile{Engine: config.DefaultEngine(), Simulations: []config.SimulationSpec{*spec}}
	default:
		return nil, fmt.Errorf("either a model or --config is required")
	}

	if engineFile != "" {
		eng, err := config.LoadEngine(engineFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load engine config: %w", err)
		}
		f.Engine = eng
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		f.Engine.Backend = config.Backend(backend)
	}
	if flags.Changed("processes") {
		f.Engine.Processes = processes
	}
	if flags.Changed("no-raise") {
		f.Engine.RaiseExceptions = !noRaise
	}
	for i := range f.Simulations {
		if flags.Changed("runs") {
			f.Simulations[i].Runs = runs
		}
		if flags.Changed("timesteps") {
			f.Simulations[i].Timesteps = timesteps
		}
	}
	if err := f.Engine.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func runExperiment(cmd *cobra.Command, args []string) error {
	f, err := loadExperimentFile(cmd, args)
	if err != nil {
		return err
	}
	_, err = execute(cmd.Context(), f)
	return err
}

// execute runs f and stores the outcome. It returns the experiment ID.
func execute(ctx context.Context, f *config.ExperimentFile) (string, error) {
	exp, err := f.Build(experiment.DefaultRegistry)
	if err != nil {
		return "", err
	}

	log := newLogger(f.Engine)
	if live {
		// keep the progress view readable
		log = logger.NewText("error", os.Stderr)
	}
	eng, err := engine.New(engine.WithConfig(f.Engine), engine.WithLogger(log))
	if err != nil {
		return "", err
	}

	start := time.Now()
	var out *engine.Output
	dispatch := func(ctx context.Context) error {
		var err error
		out, err = eng.Run(ctx, exp)
		return err
	}
	if live {
		err = tui.Watch(ctx, exp, os.Stdout, dispatch)
	} else {
		err = dispatch(ctx)
	}
	if err != nil {
		return "", err
	}
	took := time.Since(start)

	results, _ := dynamo.ExtractExceptions(out.Raw)
	fmt.Printf("%s %s runs on %s in %v\n",
		viz.StatusOK.Render("completed"),
		humanize.Comma(int64(len(out.Raw))),
		eng.Backend(),
		took.Round(time.Millisecond))
	fmt.Printf("experiment id: %s\n", exp.ID)
	fmt.Printf("snapshots: %s\n", humanize.Comma(int64(len(results))))
	if n := out.Failed(); n > 0 {
		fmt.Println(viz.StatusFailed.Render(fmt.Sprintf("%d runs failed", n)))
		for i, o := range out.Raw {
			if o.Err != nil {
				fmt.Printf("  run %d: %v\n", i, o.Err)
			}
		}
	}

	if noStore {
		return exp.ID, nil
	}
	st, err := openStore(ctx)
	if err != nil {
		return "", err
	}
	defer st.Close()

	rec := storage.NewRecord(exp, string(eng.Backend()), out.Raw, took)
	if err := st.Save(ctx, rec, results); err != nil {
		return "", err
	}
	fmt.Printf("stored in %s\n", storePath())
	return exp.ID, nil
}

func storePath() string {
	if storeKind == "sqlite" {
		return dataDir + "/cadsim.db"
	}
	return dataDir
}

func openStore(ctx context.Context) (storage.Store, error) {
	return storage.Open(ctx, storeKind, storePath())
}

func listExperiments(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	recs, err := st.List(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Println(viz.RecordTable(recs))
	return nil
}

func showExperiment(cmd *cobra.Command, args []string) error {
	rec, results, err := loadStored(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Println(viz.RecordSummary(*rec))
	printStats(results)
	return nil
}

func plotExperiment(cmd *cobra.Command, args []string) error {
	_, results, err := loadStored(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	name := variable
	if name == "" {
		vars := viz.Variables(results)
		if len(vars) == 0 {
			return fmt.Errorf("experiment %s has no numeric state variables", args[0])
		}
		name = vars[0]
	}

	plot, err := viz.Plot(results, name, viz.PlotOptions{Width: plotWidth, Height: plotHeight, Runs: plotRuns})
	if err != nil {
		return err
	}
	fmt.Println(plot)
	fmt.Print(viz.Legend(results, name, plotRuns))

	if svgPath == "" {
		return nil
	}
	series, keys := viz.Series(results, name)
	if plotRuns > 0 && len(keys) > plotRuns {
		keys = keys[:plotRuns]
	}
	lines := make([][]float64, len(keys))
	for i, k := range keys {
		lines[i] = series[k]
	}
	doc := export.SeriesSVG(lines, plotWidth*10, plotHeight*40, fmt.Sprintf("%s (%s)", name, args[0]))
	if err := os.WriteFile(svgPath, []byte(doc), 0644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", svgPath)
	return nil
}
