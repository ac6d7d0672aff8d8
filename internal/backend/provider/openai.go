package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const DefaultOpenAIBaseURL = "https://api.openai.com"

const defaultImageSize = "1024x1024"

var openAISizes = map[string]string{
	"1:1":  "1024x1024",
	"3:4":  "1024x1536",
	"9:16": "1024x1536",
	"4:3":  "1536x1024",
	"16:9": "1536x1024",
}

// SizeForAspectRatio maps a ratio to the pixel dimensions the images API accepts.
func SizeForAspectRatio(ratio string) string {
	if size, ok := openAISizes[ratio]; ok {
		return size
	}
	return defaultImageSize
}

type openAIGenerationRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type openAIResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// OpenAIProvider talks to the images generations and edits endpoints.
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func NewOpenAIProvider(baseURL, apiKey, model string, timeout time.Duration) *OpenAIProvider {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	return &OpenAIProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    newHTTPClient(timeout),
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai/" + p.model
}

func (p *OpenAIProvider) Generate(ctx context.Context, request Request) (*Image, error) {
	size := SizeForAspectRatio(request.Options.AspectRatio)

	var (
		httpRequest *http.Request
		err         error
	)
	if request.Reference != nil {
		httpRequest, err = p.editRequest(ctx, request, size)
	} else {
		httpRequest, err = p.generationRequest(ctx, request, size)
	}
	if err != nil {
		return nil, newFailure(p.Name(), ReasonProviderError, err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(httpRequest)
	if err != nil {
		return nil, newFailure(p.Name(), ReasonProviderError, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newFailure(p.Name(), ReasonProviderError, fmt.Errorf("read response: %w", err))
	}
	var decoded openAIResponse
	decodeErr := json.Unmarshal(body, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || decoded.Error != nil {
		apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
		if decoded.Error != nil {
			apiErr.Code = decoded.Error.Code
			apiErr.Message = decoded.Error.Message
		}
		return nil, classifyOpenAI(p.Name(), apiErr)
	}
	if decodeErr != nil {
		return nil, newFailure(p.Name(), ReasonProviderError, fmt.Errorf("decode response: %w", decodeErr))
	}
	if len(decoded.Data) == 0 || decoded.Data[0].B64JSON == "" {
		return nil, newFailure(p.Name(), ReasonNoImageReturned, nil)
	}
	data, err := base64.StdEncoding.DecodeString(decoded.Data[0].B64JSON)
	if err != nil {
		return nil, newFailure(p.Name(), ReasonProviderError, fmt.Errorf("decode image: %w", err))
	}
	return &Image{Data: data, MimeType: "image/png"}, nil
}

func (p *OpenAIProvider) generationRequest(ctx context.Context, request Request, size string) (*http.Request, error) {
	payload, err := json.Marshal(openAIGenerationRequest{
		Model:  p.model,
		Prompt: request.Prompt,
		N:      1,
		Size:   size,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	return httpRequest, nil
}

func (p *OpenAIProvider) editRequest(ctx context.Context, request Request, size string) (*http.Request, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := [][2]string{
		{"model", p.model},
		{"prompt", request.Prompt},
		{"n", "1"},
		{"size", size},
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, fmt.Errorf("write field %s: %w", field[0], err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image[]"; filename="%s"`, referenceFilename(request.Reference.MimeType)))
	header.Set("Content-Type", request.Reference.MimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(request.Reference.Data); err != nil {
		return nil, fmt.Errorf("write image part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/images/edits", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", writer.FormDataContentType())
	return httpRequest, nil
}

func referenceFilename(mimeType string) string {
	switch mimeType {
	case "image/png":
		return "reference.png"
	case "image/webp":
		return "reference.webp"
	default:
		return "reference.jpg"
	}
}

func classifyOpenAI(name string, err error) *GenerationFailure {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.Code == "insufficient_quota" || apiErr.Code == "rate_limit_exceeded" {
			return newFailure(name, ReasonQuotaExceeded, err)
		}
	}
	return newFailure(name, ReasonProviderError, err)
}
