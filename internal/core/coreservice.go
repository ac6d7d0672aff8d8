package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jo-hoe/banano/internal/backend/blobstore"
	"github.com/jo-hoe/banano/internal/backend/cache"
	"github.com/jo-hoe/banano/internal/backend/database"
	"github.com/jo-hoe/banano/internal/backend/evaluator"
	"github.com/jo-hoe/banano/internal/backend/generation"
	"github.com/jo-hoe/banano/internal/backend/imageprocessing"
	"github.com/jo-hoe/banano/internal/backend/provider"
)

// ImageView is an image as shown to clients, with its live descendant count.
type ImageView struct {
	*database.Image
	DescendantCount int `json:"descendant_count"`
}

// ImageDetail is an image with its parent and non-rejected children.
type ImageDetail struct {
	ImageView
	Parent   *ImageView  `json:"parent"`
	Children []ImageView `json:"children"`
}

// Content is stored image bytes with their MIME type.
type Content struct {
	Data     []byte
	MimeType string
}

type options struct {
	databaseService database.DatabaseService
	blobStore       blobstore.BlobStore
	countCache      cache.CountCache
	registry        *provider.Registry
	judge           evaluator.Judge
	judgeSet        bool
}

type Option func(*options)

func WithDatabase(db database.DatabaseService) Option {
	return func(o *options) { o.databaseService = db }
}

func WithBlobStore(store blobstore.BlobStore) Option {
	return func(o *options) { o.blobStore = store }
}

func WithCountCache(counts cache.CountCache) Option {
	return func(o *options) { o.countCache = counts }
}

func WithProviderRegistry(registry *provider.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithJudge replaces the configured judge; nil disables judging.
func WithJudge(judge evaluator.Judge) Option {
	return func(o *options) {
		o.judge = judge
		o.judgeSet = true
	}
}

type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	counts          cache.CountCache
	gallery         *Gallery
	providers       *provider.Registry
	orchestrator    *generation.Orchestrator
}

// NewCoreService wires the gallery from config. Options override the
// components that would otherwise be built from it.
func NewCoreService(ctx context.Context, config *ServiceConfig, opts ...Option) (*CoreService, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	databaseService := o.databaseService
	if databaseService == nil {
		var err error
		databaseService, err = getDatabaseService(config)
		if err != nil {
			return nil, err
		}
	}

	blobs := o.blobStore
	if blobs == nil {
		var err error
		blobs, err = blobstore.New(ctx, config.Storage)
		if err != nil {
			_ = databaseService.Close()
			return nil, fmt.Errorf("failed to initialize blob storage: %w", err)
		}
		slog.Info("blob storage initialized successfully", "type", config.Storage.Type)
	}

	counts := o.countCache
	if counts == nil {
		var err error
		counts, err = cache.New(config.Cache, databaseService)
		if err != nil {
			_ = databaseService.Close()
			return nil, fmt.Errorf("failed to initialize descendant count cache: %w", err)
		}
	}

	registry := o.registry
	if registry == nil {
		var err error
		registry, err = provider.BuildRegistry(config.Providers, config.Keys)
		if err != nil {
			_ = counts.Close()
			_ = databaseService.Close()
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	}
	if len(registry.Models()) == 0 {
		slog.Warn("no image generation model is available, generation requests will be rejected")
	}

	judge := o.judge
	if !o.judgeSet {
		judge = buildJudge(config)
	}

	gallery := NewGallery(databaseService, blobs, counts)
	orchestrator, err := generation.NewOrchestrator(config.Generation, gallery, registry, evaluator.New(judge))
	if err != nil {
		_ = counts.Close()
		_ = databaseService.Close()
		return nil, fmt.Errorf("failed to initialize generation: %w", err)
	}

	return &CoreService{
		config:          config,
		databaseService: databaseService,
		counts:          counts,
		gallery:         gallery,
		providers:       registry,
		orchestrator:    orchestrator,
	}, nil
}

func buildJudge(config *ServiceConfig) evaluator.Judge {
	if config.Evaluator.Disabled || !config.Generation.BestOf() {
		return nil
	}
	if config.Keys.Google == "" {
		slog.Warn("evaluator: no Google API key, the first candidate of each slot wins")
		return nil
	}
	client := provider.NewGeminiClient(config.Evaluator.BaseURL, config.Keys.Google, config.Evaluator.Timeout)
	return evaluator.NewGeminiJudge(client, config.Evaluator.Model)
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

func (service *CoreService) Close() error {
	return errors.Join(service.counts.Close(), service.databaseService.Close())
}

// Models lists the selectable generation models.
func (service *CoreService) Models() []provider.Model {
	return service.providers.Models()
}

// ListImages returns non-rejected images newest first, counting descendants
// over a single snapshot of the lineage.
func (service *CoreService) ListImages(ctx context.Context, filter database.Filter) ([]ImageView, error) {
	images, err := service.databaseService.ListImages(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	forest, err := service.databaseService.LoadForest(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]ImageView, 0, len(images))
	for _, image := range images {
		views = append(views, ImageView{Image: image, DescendantCount: forest.DescendantCount(image.ID)})
	}
	return views, nil
}

func (service *CoreService) GetImageDetail(ctx context.Context, id string) (*ImageDetail, error) {
	lineage, err := service.databaseService.GetImageWithLineage(ctx, id)
	if err != nil {
		return nil, err
	}

	view, err := service.view(ctx, lineage.Image)
	if err != nil {
		return nil, err
	}
	detail := &ImageDetail{ImageView: view, Children: make([]ImageView, 0, len(lineage.Children))}
	if lineage.Parent != nil {
		parent, err := service.view(ctx, lineage.Parent)
		if err != nil {
			return nil, err
		}
		detail.Parent = &parent
	}
	for _, child := range lineage.Children {
		childView, err := service.view(ctx, child)
		if err != nil {
			return nil, err
		}
		detail.Children = append(detail.Children, childView)
	}
	return detail, nil
}

func (service *CoreService) view(ctx context.Context, image *database.Image) (ImageView, error) {
	count, err := service.gallery.DescendantCount(ctx, image.ID)
	if err != nil {
		return ImageView{}, fmt.Errorf("failed to count descendants of image %s: %w", image.ID, err)
	}
	return ImageView{Image: image, DescendantCount: count}, nil
}

func (service *CoreService) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	return service.databaseService.ToggleFavorite(ctx, id)
}

// UploadImage stores a user upload as a new root image.
func (service *CoreService) UploadImage(ctx context.Context, data []byte) (*ImageView, error) {
	upload, err := imageprocessing.NormalizeUpload(data)
	if err != nil {
		return nil, err
	}
	image, err := service.gallery.SaveUpload(ctx, upload.Data, upload.MimeType)
	if err != nil {
		return nil, err
	}
	slog.Info("image uploaded", "image_id", image.ID, "mime_type", image.MimeType, "size_bytes", len(upload.Data))
	return &ImageView{Image: image}, nil
}

func (service *CoreService) ImageContent(ctx context.Context, id string) (*Content, error) {
	image, err := service.gallery.LoadContent(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Content{Data: image.Data, MimeType: image.MimeType}, nil
}

// FileContent serves stored bytes by blob key, as referenced by Image.Filename.
func (service *CoreService) FileContent(ctx context.Context, filename string) (*Content, error) {
	data, err := service.gallery.blobs.Get(ctx, filename)
	if err != nil {
		return nil, err
	}
	return &Content{Data: data, MimeType: blobstore.MimeForKey(filename)}, nil
}

func (service *CoreService) Thumbnail(ctx context.Context, id string) ([]byte, error) {
	content, err := service.gallery.LoadContent(ctx, id)
	if err != nil {
		return nil, err
	}
	return imageprocessing.Thumbnail(content.Data, service.config.ThumbnailWidth)
}

// PrepareGeneration validates a generation request without starting it.
func (service *CoreService) PrepareGeneration(ctx context.Context, request generation.Request) (*generation.Run, error) {
	return service.orchestrator.Prepare(ctx, request)
}

func (service *CoreService) Generate(ctx context.Context, request generation.Request, emitter generation.Emitter) ([]generation.Result, error) {
	return service.orchestrator.Generate(ctx, request, emitter)
}
