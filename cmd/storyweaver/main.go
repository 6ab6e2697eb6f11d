package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dotcommander/storyweaver/internal/api"
	"github.com/dotcommander/storyweaver/internal/bible"
	"github.com/dotcommander/storyweaver/internal/causality"
	"github.com/dotcommander/storyweaver/internal/config"
	"github.com/dotcommander/storyweaver/internal/core"
	domain "github.com/dotcommander/storyweaver/internal/domain/fiction"
	"github.com/dotcommander/storyweaver/internal/storage"
	"github.com/dotcommander/storyweaver/internal/story"
)

const appName = "storyweaver"

// errInconsistent makes validate exit non-zero without an extra message
var errInconsistent = errors.New("causal chain is inconsistent")

func usage() {
	fmt.Fprintf(os.Stderr, "%s: causally consistent story generation\n\n", appName)
	fmt.Fprintf(os.Stderr, "Usage:\n  %s <command> [flags]\n\n", appName)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve        Serve the HTTP API")
	fmt.Fprintln(os.Stderr, "  generate     Generate one story")
	fmt.Fprintln(os.Stderr, "  validate     Check the causal chains of one or more outlines")
	fmt.Fprintln(os.Stderr, "  checkpoints  List, show or delete improvement checkpoints")
	fmt.Fprintln(os.Stderr, "  help         Show this help")
	fmt.Fprintf(os.Stderr, "\nRun '%s <command> -h' for command flags.\n", appName)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch args[0] {
	case "serve":
		err = runServe(ctx, args[1:])
	case "generate":
		err = runGenerate(ctx, args[1:], os.Stdout)
	case "validate":
		err = runValidate(ctx, args[1:], os.Stdout)
	case "checkpoints":
		err = runCheckpoints(ctx, args[1:], os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		usage()
		os.Exit(2)
	}

	if err != nil {
		if !errors.Is(err, errInconsistent) && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

type commonFlags struct {
	configPath string
	mock       bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to config file")
	fs.BoolVar(&c.mock, "mock", false, "Use the offline mock generator")
}

func (c *commonFlags) load() (*app, error) {
	cfg, err := loadConfig(c.configPath, c.mock)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	return buildApp(cfg, c.mock, logger)
}

// loadConfig reads configuration. With the mock generator no API key is
// required.
func loadConfig(path string, mock bool) (*config.Config, error) {
	var opts []config.LoadOption
	if mock {
		opts = append(opts, config.WithProvider("mock"))
	}
	cfg, err := config.Load(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	addr := fs.String("addr", "", "Listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := common.load()
	if err != nil {
		return err
	}
	defer a.Close()

	listen := a.cfg.Server.Addr
	if *addr != "" {
		listen = *addr
	}

	srv := api.New(a.service,
		api.WithAddr(listen),
		api.WithMode(a.mode),
		api.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	return srv.Run(ctx)
}

func runGenerate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	prompt := fs.String("prompt", "", "Story prompt (required)")
	genre := fs.String("genre", "", "Genre")
	length := fs.String("length", "", "Target length: short_story, novella or novel")
	biblePath := fs.String("bible", "", "YAML story bible with background and choices")
	outDir := fs.String("out", "", "Directory to export the story to")
	asJSON := fs.Bool("json", false, "Print the full result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*prompt) == "" {
		return fmt.Errorf("-prompt is required")
	}

	req := story.Request{Prompt: *prompt, Genre: *genre, Length: *length}
	if *biblePath != "" {
		background, choices, err := readBible(*biblePath)
		if err != nil {
			return err
		}
		req.StoryBible, req.Choices = background, choices
	}

	a, err := common.load()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.service.Generate(ctx, req)
	if err != nil {
		return err
	}

	if *outDir != "" {
		dir := storage.StoryPath(*outDir, result.StoryID, *prompt, storage.ParseNamingStrategy(a.cfg.Storage.Naming))
		if err := exportStory(dir, result); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Story exported to %s\n", dir)
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintf(out, "# %s\n\n%s\n\n---\nstory_id: %s\nstate: %s\niterations: %d\noverall_score: %.3f\ncausal_integrity: %.2f\n",
		result.Title, result.Content, result.StoryID, result.State, result.Iterations,
		result.QualityMetrics.OverallScore, result.QualityMetrics.CausalIntegrity)
	return nil
}

// bibleFile is the YAML story bible. Keys other than choices are passed to
// the outline as background.
type bibleFile struct {
	Choices    []bible.Choice `yaml:"choices"`
	Background map[string]any `yaml:",inline"`
}

func readBible(path string) (map[string]any, []bible.Choice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading story bible: %w", err)
	}
	var bf bibleFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, nil, fmt.Errorf("parsing story bible: %w", err)
	}
	return bf.Background, bf.Choices, nil
}

func exportStory(dir string, result *story.Result) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}

	text := fmt.Sprintf("# %s\n\n%s\n", result.Title, result.Content)
	if err := os.WriteFile(filepath.Join(dir, "story.md"), []byte(text), 0644); err != nil {
		return fmt.Errorf("writing story: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling story: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "story.json"), data, 0644); err != nil {
		return fmt.Errorf("writing story metadata: %w", err)
	}
	return nil
}

// pathList collects a repeatable flag
type pathList []string

func (p *pathList) String() string {
	return strings.Join(*p, ",")
}

func (p *pathList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

// runValidate prints one report for a single outline and a report per path
// for several.
func runValidate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	var outlines pathList
	fs.Var(&outlines, "outline", "Outline JSON file (or {\"causal_chains\": [...]}); repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths := append([]string(outlines), fs.Args()...)
	if len(paths) == 0 {
		return fmt.Errorf("-outline is required")
	}

	checker := causality.NewChecker(causality.WithLogger(
		slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))))
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if len(paths) == 1 {
		chains, err := readChains(paths[0])
		if err != nil {
			return err
		}
		report := checker.Validate(chains)
		if err := enc.Encode(report); err != nil {
			return err
		}
		if !report.IsConsistent {
			return errInconsistent
		}
		return nil
	}

	batches := make(map[string][]domain.CausalLink, len(paths))
	for _, path := range paths {
		chains, err := readChains(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		batches[path] = chains
	}

	reports := checker.ValidateBatch(ctx, batches)
	if err := enc.Encode(reports); err != nil {
		return err
	}
	for _, report := range reports {
		if !report.IsConsistent {
			return errInconsistent
		}
	}
	return nil
}

func readChains(path string) ([]domain.CausalLink, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading outline: %w", err)
	}
	var outline domain.Outline
	if err := json.Unmarshal(data, &outline); err != nil {
		return nil, fmt.Errorf("parsing outline: %w", err)
	}
	return outline.CausalChains, nil
}

// runCheckpoints reads the improvement checkpoints under the data directory.
// No generator is built, so no API key is needed.
func runCheckpoints(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("checkpoints", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	show := fs.String("show", "", "Print the checkpoint of one session as JSON")
	remove := fs.String("delete", "", "Delete the checkpoint of one session")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *show != "" && *remove != "" {
		return fmt.Errorf("-show and -delete cannot be combined")
	}

	cfg, err := loadConfig(*configPath, true)
	if err != nil {
		return err
	}
	checkpoints := core.NewCheckpointManager(storage.NewFileSystem(cfg.Storage.DataDir))

	switch {
	case *show != "":
		checkpoint, err := checkpoints.Load(ctx, *show)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(checkpoint)
	case *remove != "":
		if err := checkpoints.Delete(ctx, *remove); err != nil {
			return fmt.Errorf("deleting checkpoint: %w", err)
		}
		fmt.Fprintf(out, "Deleted checkpoint %s\n", *remove)
		return nil
	}

	list, err := checkpoints.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No checkpoints")
		return nil
	}
	for _, c := range list {
		fmt.Fprintf(out, "%-16s  %-9s  iteration %d  score %.3f  %s\n",
			c.ID, c.State, c.Iteration, c.Score, c.Timestamp.Format(time.RFC3339))
	}
	return nil
}
