package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jo-hoe/banano/internal/backend/blobstore"
	"github.com/jo-hoe/banano/internal/backend/generation"
	"github.com/jo-hoe/banano/internal/core"
)

const defaultCount = 10

const usage = `usage: generate [flags] <image> <prompt> [count]

Generates [count] (default 10) variations of <image> and writes them next
to it as <name>_generated_<timestamp>_<n><ext>.

Flags:
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "optional YAML config; providers and generation bounds are read from it")
	model := flag.String("model", "", "model to generate with, defaults to the first available")
	aspectRatio := flag.String("aspect-ratio", "", "aspect ratio, e.g. 16:9")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if flag.NArg() < 2 || flag.NArg() > 3 {
		flag.Usage()
		os.Exit(2)
	}
	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Printf("failed to load .env file: %v", err)
		}
	}

	count := defaultCount
	if flag.NArg() == 3 {
		parsed, err := strconv.Atoi(flag.Arg(2))
		if err != nil || parsed < 1 {
			log.Fatalf("count must be a positive integer, got %q", flag.Arg(2))
		}
		count = parsed
	}

	config, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	written, err := run(context.Background(), config, flag.Arg(0), generation.Request{
		Prompt:      flag.Arg(1),
		Count:       &count,
		Model:       *model,
		AspectRatio: *aspectRatio,
	})
	if err != nil {
		log.Fatalf("generation failed: %v", err)
	}
	if len(written) == 0 {
		log.Fatalf("no image was generated")
	}
	for _, path := range written {
		fmt.Println(path)
	}
}

// run seeds a throwaway gallery with the input image and generates from it.
// The configured count bound is raised so the requested count is honoured.
func run(ctx context.Context, config *core.ServiceConfig, imagePath string, request generation.Request, opts ...core.Option) ([]string, error) {
	if request.Count != nil && *request.Count > config.Generation.MaxCount {
		config.Generation.MaxCount = *request.Count
	}
	scratch, err := os.MkdirTemp("", "banano-generate-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(scratch)
	}()
	config.Database = core.Database{Type: "sqlite", ConnectionString: ":memory:"}
	config.Storage = blobstore.Config{Type: "filesystem", Directory: scratch}
	config.Cache.Type = ""

	service, err := core.NewCoreService(ctx, config, opts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = service.Close()
	}()

	input, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", imagePath, err)
	}
	seed, err := service.UploadImage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", imagePath, err)
	}
	request.ParentID = &seed.ID

	progress := generation.EmitterFunc(func(ctx context.Context, event generation.Event) error {
		if !event.Done {
			fmt.Fprintf(os.Stderr, "%s %d/%d\n", event.Phase, event.Completed, event.Total)
		}
		return nil
	})
	results, err := service.Generate(ctx, request, progress)
	if err != nil {
		return nil, err
	}

	return writeResults(ctx, service, imagePath, results, time.Now())
}

func loadConfig(path string) (*core.ServiceConfig, error) {
	if path != "" {
		return core.LoadConfig(path)
	}
	config := &core.ServiceConfig{}
	if err := core.ReadEnvironment(config); err != nil {
		return nil, err
	}
	config.ApplyDefaults()
	return config, config.Validate()
}

func writeResults(ctx context.Context, service *core.CoreService, imagePath string, results []generation.Result, now time.Time) ([]string, error) {
	base := strings.TrimSuffix(imagePath, filepath.Ext(imagePath))
	timestamp := now.Format("20060102_150405")

	written := make([]string, 0, len(results))
	for i, result := range results {
		content, err := service.ImageContent(ctx, result.ID)
		if err != nil {
			return written, err
		}
		path := fmt.Sprintf("%s_generated_%s_%d%s", base, timestamp, i+1, blobstore.ExtensionForMime(content.MimeType))
		if err := os.WriteFile(path, content.Data, 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
