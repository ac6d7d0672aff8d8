package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

const referencePromptTemplate = "Generate an image based on this input image and the following instruction: %s\n\n" +
	"IMPORTANT: Create a new image that follows the instruction while using the input image as reference."

type GeminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type GeminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *GeminiBlob `json:"inlineData,omitempty"`
}

// TextPart and ImagePart build request parts.
func TextPart(text string) GeminiPart {
	return GeminiPart{Text: text}
}

func ImagePart(image *Image) GeminiPart {
	return GeminiPart{InlineData: &GeminiBlob{
		MimeType: image.MimeType,
		Data:     base64.StdEncoding.EncodeToString(image.Data),
	}}
}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type GeminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type GeminiGenerationConfig struct {
	Temperature        *float64           `json:"temperature,omitempty"`
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ImageConfig        *GeminiImageConfig `json:"imageConfig,omitempty"`
}

type GeminiRequest struct {
	Contents         []GeminiContent         `json:"contents"`
	GenerationConfig *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

type GeminiResponse struct {
	Candidates []struct {
		Content      GeminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// FirstImage returns the first inline image across all candidates.
func (r *GeminiResponse) FirstImage() (*Image, error) {
	for _, candidate := range r.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to decode inline image: %w", err)
			}
			return &Image{Data: data, MimeType: part.InlineData.MimeType}, nil
		}
	}
	return nil, nil
}

// Text concatenates the text parts of the first candidate.
func (r *GeminiResponse) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var builder strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		builder.WriteString(part.Text)
	}
	return builder.String()
}

type geminiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// GeminiClient speaks the generateContent REST endpoint. It serves both image
// generation and text answers from vision models.
type GeminiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewGeminiClient(baseURL, apiKey string, timeout time.Duration) *GeminiClient {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	return &GeminiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    newHTTPClient(timeout),
	}
}

func (c *GeminiClient) GenerateContent(ctx context.Context, model string, request GeminiRequest) (*GeminiResponse, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
		var decoded geminiErrorBody
		if json.Unmarshal(body, &decoded) == nil {
			apiErr.Code = decoded.Error.Status
			apiErr.Message = decoded.Error.Message
		}
		return nil, apiErr
	}

	var decoded GeminiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &decoded, nil
}

// GeminiProvider generates images with a single Gemini model.
type GeminiProvider struct {
	client *GeminiClient
	model  string
}

func NewGeminiProvider(client *GeminiClient, model string) *GeminiProvider {
	return &GeminiProvider{client: client, model: model}
}

func (p *GeminiProvider) Name() string {
	return "gemini/" + p.model
}

func (p *GeminiProvider) Generate(ctx context.Context, request Request) (*Image, error) {
	config := &GeminiGenerationConfig{
		Temperature:        request.Options.Temperature,
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}
	if ratio := request.Options.AspectRatio; ratio != "" && ratio != AspectRatioAuto {
		config.ImageConfig = &GeminiImageConfig{AspectRatio: ratio}
	}

	parts := []GeminiPart{TextPart(request.Prompt)}
	if request.Reference != nil {
		parts = []GeminiPart{
			TextPart(fmt.Sprintf(referencePromptTemplate, request.Prompt)),
			ImagePart(request.Reference),
		}
	}

	resp, err := p.client.GenerateContent(ctx, p.model, GeminiRequest{
		Contents:         []GeminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: config,
	})
	if err != nil {
		return nil, classifyGemini(p.Name(), err)
	}
	image, err := resp.FirstImage()
	if err != nil {
		return nil, newFailure(p.Name(), ReasonProviderError, err)
	}
	if image == nil {
		return nil, newFailure(p.Name(), ReasonNoImageReturned, nil)
	}
	return image, nil
}

func classifyGemini(name string, err error) *GenerationFailure {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.Code == "RESOURCE_EXHAUSTED" {
			return newFailure(name, ReasonQuotaExceeded, err)
		}
	}
	return newFailure(name, ReasonProviderError, err)
}
