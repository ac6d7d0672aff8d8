package backend

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jo-hoe/banano/internal/backend/blobstore"
	"github.com/jo-hoe/banano/internal/backend/database"
	"github.com/jo-hoe/banano/internal/backend/generation"
	"github.com/jo-hoe/banano/internal/backend/imageprocessing"
	"github.com/jo-hoe/banano/internal/backend/provider"
	"github.com/jo-hoe/banano/internal/backend/stream"
	"github.com/jo-hoe/banano/internal/core"
)

const maxUploadBytes = 25 << 20

type APIService struct {
	config      *core.ServiceConfig
	coreService *core.CoreService
}

type configResponse struct {
	Models []provider.Model `json:"models"`
}

type favoriteResponse struct {
	IsFavorite bool `json:"is_favorite"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		config:      config,
		coreService: coreService,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, "API Service is running")
	})

	api := e.Group("/api")
	api.GET("/config", s.getConfig)
	api.GET("/images", s.listImages)
	api.GET("/images/:id", s.getImage)
	api.POST("/images/:id/favorite", s.toggleFavorite)
	api.GET("/images/:id/content", s.getImageContent)
	api.GET("/images/:id/thumbnail", s.getThumbnail)
	api.POST("/upload", s.uploadImage)
	api.POST("/generate", s.generate)
	api.GET("/generate/ws", s.generateWebSocket)

	e.GET("/uploads/:filename", s.getUploadedFile)
}

func (s *APIService) getConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, configResponse{Models: s.coreService.Models()})
}

func (s *APIService) listImages(c echo.Context) error {
	images, err := s.coreService.ListImages(c.Request().Context(), database.ParseFilter(c.QueryParam("filter")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, images)
}

func (s *APIService) getImage(c echo.Context) error {
	detail, err := s.coreService.GetImageDetail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *APIService) toggleFavorite(c echo.Context) error {
	favorite, err := s.coreService.ToggleFavorite(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, favoriteResponse{IsFavorite: favorite})
}

func (s *APIService) getImageContent(c echo.Context) error {
	content, err := s.coreService.ImageContent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Blob(http.StatusOK, content.MimeType, content.Data)
}

func (s *APIService) getUploadedFile(c echo.Context) error {
	content, err := s.coreService.FileContent(c.Request().Context(), c.Param("filename"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Blob(http.StatusOK, content.MimeType, content.Data)
}

func (s *APIService) getThumbnail(c echo.Context) error {
	thumbnail, err := s.coreService.Thumbnail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	c.Response().Header().Set("Cache-Control", "public, max-age=86400")
	return c.Blob(http.StatusOK, "image/png", thumbnail)
}

func (s *APIService) uploadImage(c echo.Context) error {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"image\" is required")
	}
	if fileHeader.Size > maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", maxUploadBytes))
	}
	file, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to open uploaded file")
	}
	defer func() {
		_ = file.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read uploaded file")
	}
	if len(data) > maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", maxUploadBytes))
	}

	image, err := s.coreService.UploadImage(c.Request().Context(), data)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, image)
}

// generate validates the request before any stream bytes are written, so
// validation and lookup failures surface as plain HTTP errors.
func (s *APIService) generate(c echo.Context) error {
	var request generation.Request
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("received invalid request body: %v", err))
	}
	if err := c.Validate(&request); err != nil {
		return err
	}

	ctx := c.Request().Context()
	run, err := s.coreService.PrepareGeneration(ctx, request)
	if err != nil {
		return toHTTPError(err)
	}

	emitter, err := stream.NewSSEEmitter(c.Response())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	results := run.Execute(ctx, emitter)
	slog.Info("api: generation finished", "transport", "sse", "slots", run.Slots(), "results", len(results))
	return nil
}

func (s *APIService) generateWebSocket(c echo.Context) error {
	conn, err := stream.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already wrote an error response
		slog.Warn("api: websocket upgrade failed", "error", err)
		return nil
	}
	emitter := stream.NewWebSocketEmitter(conn)
	defer func() {
		_ = emitter.Close()
	}()

	request, err := stream.ReadRequest(conn)
	if err != nil {
		_ = emitter.SendError(err.Error())
		return nil
	}
	ctx := c.Request().Context()
	run, err := s.coreService.PrepareGeneration(ctx, request)
	if err != nil {
		_ = emitter.SendError(err.Error())
		return nil
	}

	results := run.Execute(ctx, emitter)
	slog.Info("api: generation finished", "transport", "websocket", "slots", run.Slots(), "results", len(results))
	return nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, generation.ErrValidation), errors.Is(err, imageprocessing.ErrUnsupportedImage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound), errors.Is(err, blobstore.ErrBlobNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		slog.Error("api: request failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
