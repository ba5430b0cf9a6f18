package platform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/podworks/podworks/internal/domain"
	"github.com/podworks/podworks/internal/pipeline"
)

const depImageGen = "imagegen"

// ImageGenClient talks to the image generation service over HTTP.
// It implements pipeline.ImageGenerator.
type ImageGenClient struct {
	baseURL string
	token   string
	hc      *http.Client
}

func NewImageGenClient(baseURL, token string) *ImageGenClient {
	return &ImageGenClient{
		baseURL: baseURL,
		token:   token,
		hc:      &http.Client{},
	}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	Seed   int    `json:"seed"`
}

type generateResponse struct {
	ID   string `json:"id"`
	Mime string `json:"mime"`
	Data string `json:"data"` // base64
}

func (c *ImageGenClient) Generate(ctx context.Context, prompt string, seed int) (pipeline.Image, error) {
	payload, err := json.Marshal(generateRequest{Prompt: prompt, Seed: seed})
	if err != nil {
		return pipeline.Image{}, domain.NewValidationError(depImageGen, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return pipeline.Image{}, domain.NewValidationError(depImageGen, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return pipeline.Image{}, classifyTransport(depImageGen, err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return pipeline.Image{}, classifyHTTP(depImageGen, resp)
	}

	var body generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return pipeline.Image{}, domain.NewTransientError(depImageGen, fmt.Errorf("decode response: %w", err))
	}

	data, err := base64.StdEncoding.DecodeString(body.Data)
	if err != nil {
		return pipeline.Image{}, domain.NewTransientError(depImageGen, fmt.Errorf("decode image data: %w", err))
	}
	if len(data) == 0 {
		return pipeline.Image{}, domain.NewTransientError(depImageGen, fmt.Errorf("empty image payload"))
	}

	id := body.ID
	if id == "" {
		id = uuid.NewString()
	}
	mime := body.Mime
	if mime == "" {
		mime = "image/png"
	}

	return pipeline.Image{ID: id, Data: data, Mime: mime}, nil
}
