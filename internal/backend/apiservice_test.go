package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/jo-hoe/banano/internal/backend/blobstore"
	"github.com/jo-hoe/banano/internal/backend/generation"
	"github.com/jo-hoe/banano/internal/backend/provider"
	"github.com/jo-hoe/banano/internal/common"
	"github.com/jo-hoe/banano/internal/core"
)

type solidProvider struct {
	calls atomic.Int32
}

func (p *solidProvider) Name() string { return "solid" }

func (p *solidProvider) Generate(ctx context.Context, request provider.Request) (*provider.Image, error) {
	p.calls.Add(1)
	return &provider.Image{Data: solidPNG(200), MimeType: "image/png"}, nil
}

func solidPNG(shade uint8) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{shade, 0, 0, 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func newTestServer(t *testing.T) (*echo.Echo, *solidProvider) {
	t.Helper()
	config := &core.ServiceConfig{
		Database:   core.Database{Type: "sqlite", ConnectionString: ":memory:"},
		Storage:    blobstore.Config{Type: "filesystem", Directory: t.TempDir()},
		Generation: generation.Config{CandidatesPerSlot: 1},
	}
	config.ApplyDefaults()

	p := &solidProvider{}
	registry := provider.NewRegistry()
	if err := registry.Register("solid", "Solid", p); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	coreService, err := core.NewCoreService(context.Background(), config, core.WithProviderRegistry(registry), core.WithJudge(nil))
	if err != nil {
		t.Fatalf("NewCoreService error: %v", err)
	}
	t.Cleanup(func() { _ = coreService.Close() })

	e := echo.New()
	e.Validator = &common.GenericEchoValidator{}
	NewAPIService(config, coreService).SetRoutes(e)
	return e, p
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func upload(t *testing.T, e *echo.Echo, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", "upload.png")
	if err != nil {
		t.Fatalf("CreateFormFile error: %v", err)
	}
	_, _ = part.Write(data)
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return serve(e, req)
}

func uploadRoot(t *testing.T, e *echo.Echo) core.ImageView {
	t.Helper()
	rec := upload(t, e, solidPNG(10))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}
	var view core.ImageView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode upload response: %v", err)
	}
	return view
}

func TestAPIService_ProbeAndConfig(t *testing.T) {
	e, _ := newTestServer(t)

	if rec := serve(e, httptest.NewRequest(http.MethodGet, "/probe", nil)); rec.Code != http.StatusOK {
		t.Errorf("probe status = %d", rec.Code)
	}

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("config status = %d", rec.Code)
	}
	var response configResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode config: %v", err)
	}
	if len(response.Models) != 1 || response.Models[0].Value != "solid" || response.Models[0].Label != "Solid" {
		t.Errorf("models = %+v", response.Models)
	}
}

func TestAPIService_ImageRoutes(t *testing.T) {
	e, _ := newTestServer(t)
	root := uploadRoot(t, e)
	if !root.IsUploaded || root.Filename == "" {
		t.Fatalf("unexpected upload response %+v", root.Image)
	}

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/api/images?filter=all", nil))
	var images []core.ImageView
	if err := json.Unmarshal(rec.Body.Bytes(), &images); err != nil || len(images) != 1 {
		t.Fatalf("list = %s (%v)", rec.Body.String(), err)
	}

	rec = serve(e, httptest.NewRequest(http.MethodPost, "/api/images/"+root.ID+"/favorite", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"is_favorite":true}` {
		t.Errorf("favorite = %d %s", rec.Code, rec.Body.String())
	}
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/images?filter=favorites", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &images); err != nil || len(images) != 1 || !images[0].IsFavorite {
		t.Errorf("favorites = %s", rec.Body.String())
	}

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/images/"+root.ID, nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"children":[]`) || !strings.Contains(rec.Body.String(), `"descendant_count":0`) {
		t.Errorf("detail = %d %s", rec.Code, rec.Body.String())
	}

	for _, path := range []string{"/api/images/" + root.ID + "/content", "/uploads/" + root.Filename} {
		rec = serve(e, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Header().Get(echo.HeaderContentType) != "image/png" || !bytes.Equal(rec.Body.Bytes(), solidPNG(10)) {
			t.Errorf("%s = %d %s", path, rec.Code, rec.Header().Get(echo.HeaderContentType))
		}
	}

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/images/"+root.ID+"/thumbnail", nil))
	if rec.Code != http.StatusOK || rec.Header().Get(echo.HeaderContentType) != "image/png" {
		t.Errorf("thumbnail = %d %s", rec.Code, rec.Header().Get(echo.HeaderContentType))
	}
}

func TestAPIService_ErrorMapping(t *testing.T) {
	e, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"missing image", http.MethodGet, "/api/images/missing", http.StatusNotFound},
		{"favorite missing image", http.MethodPost, "/api/images/missing/favorite", http.StatusNotFound},
		{"missing content", http.MethodGet, "/api/images/missing/content", http.StatusNotFound},
		{"missing file", http.MethodGet, "/uploads/nothing.png", http.StatusNotFound},
		{"upload without file", http.MethodPost, "/api/upload", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := serve(e, httptest.NewRequest(tt.method, tt.path, nil)); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if rec := upload(t, e, []byte("plain text")); rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported upload status = %d, want 400", rec.Code)
	}
}

func postGenerate(e *echo.Echo, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return serve(e, req)
}

func readSSE(t *testing.T, body string) []generation.Event {
	t.Helper()
	var events []generation.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event generation.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("failed to decode event %q: %v", line, err)
		}
		events = append(events, event)
	}
	return events
}

func TestAPIService_GenerateStreamsEvents(t *testing.T) {
	e, p := newTestServer(t)
	root := uploadRoot(t, e)

	rec := postGenerate(e, `{"prompt":"make it blue","parent_id":"`+root.ID+`","count":2,"model":"solid"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}

	events := readSSE(t, rec.Body.String())
	if len(events) != 3 {
		t.Fatalf("got %d events, want two progress events and the terminal one", len(events))
	}
	for i, event := range events[:2] {
		if event.Phase != generation.PhaseGenerating || event.Completed != i+1 || event.Total != 2 {
			t.Errorf("event %d = %+v", i, event)
		}
	}
	last := events[2]
	if !last.Done || len(last.Results) != 2 {
		t.Fatalf("terminal event = %+v", last)
	}
	if p.calls.Load() != 2 {
		t.Errorf("provider calls = %d, want 2", p.calls.Load())
	}

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/api/images/"+root.ID, nil))
	var detail core.ImageDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("failed to decode detail: %v", err)
	}
	if detail.DescendantCount != 2 || len(detail.Children) != 2 {
		t.Errorf("descendant_count=%d children=%d, want 2 and 2", detail.DescendantCount, len(detail.Children))
	}
}

func TestAPIService_GenerateRejectsBeforeStreaming(t *testing.T) {
	e, p := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty prompt", `{"prompt":""}`, http.StatusBadRequest},
		{"blank prompt", `{"prompt":"   "}`, http.StatusBadRequest},
		{"unknown model", `{"prompt":"x","model":"nope"}`, http.StatusBadRequest},
		{"bad aspect ratio", `{"prompt":"x","aspect_ratio":"2:1"}`, http.StatusBadRequest},
		{"negative count", `{"prompt":"x","count":-1}`, http.StatusBadRequest},
		{"unknown parent", `{"prompt":"x","parent_id":"missing"}`, http.StatusNotFound},
		{"malformed json", `{"prompt":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postGenerate(e, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if strings.Contains(rec.Body.String(), "data: ") {
				t.Error("stream opened for an invalid request")
			}
		})
	}
	if p.calls.Load() != 0 {
		t.Errorf("provider called %d times", p.calls.Load())
	}
}

func TestAPIService_GenerateWebSocket(t *testing.T) {
	e, _ := newTestServer(t)
	server := httptest.NewServer(e)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/generate/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(map[string]any{"prompt": "a lighthouse", "count": 1}); err != nil {
		t.Fatalf("write error: %v", err)
	}

	var events []generation.Event
	for {
		var event generation.Event
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("read error after %d events: %v", len(events), err)
		}
		events = append(events, event)
		if event.Done {
			break
		}
	}
	if len(events) != 2 || events[0].Phase != generation.PhaseGenerating || len(events[1].Results) != 1 {
		t.Errorf("events = %+v", events)
	}
}

func TestAPIService_GenerateWebSocketRejectsInvalidRequest(t *testing.T) {
	e, _ := newTestServer(t)
	server := httptest.NewServer(e)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/generate/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(map[string]any{"prompt": " "}); err != nil {
		t.Fatalf("write error: %v", err)
	}
	var response map[string]string
	if err := conn.ReadJSON(&response); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if !strings.Contains(response["error"], "prompt is required") {
		t.Errorf("error frame = %+v", response)
	}
}
