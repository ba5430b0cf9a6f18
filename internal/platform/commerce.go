package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/podworks/podworks/internal/domain"
	"github.com/podworks/podworks/internal/pipeline"
)

// CommerceClient creates products on one sales platform (Printify,
// Shopify, ...) through its HTTP API. One instance per platform; it
// implements pipeline.CommercePlatform.
type CommerceClient struct {
	name    string
	baseURL string
	token   string
	hc      *http.Client
}

func NewCommerceClient(name, baseURL, token string) *CommerceClient {
	return &CommerceClient{
		name:    name,
		baseURL: baseURL,
		token:   token,
		hc:      &http.Client{},
	}
}

func (c *CommerceClient) Name() string { return c.name }

func (c *CommerceClient) Variants(ctx context.Context, productType string) ([]pipeline.Variant, error) {
	u := fmt.Sprintf("%s/v1/catalog/variants?product_type=%s", c.baseURL, url.QueryEscape(productType))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, domain.NewValidationError(c.name, err)
	}
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, classifyTransport(c.name, err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTP(c.name, resp)
	}

	var body struct {
		Variants []pipeline.Variant `json:"variants"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, domain.NewTransientError(c.name, fmt.Errorf("decode variants: %w", err))
	}
	if len(body.Variants) == 0 {
		return nil, domain.NewValidationError(c.name, fmt.Errorf("no variants for product type %q", productType))
	}
	return body.Variants, nil
}

type createProductRequest struct {
	Title       string             `json:"title"`
	ProductType string             `json:"product_type"`
	ImageURL    string             `json:"image_url,omitempty"`
	ImageKey    string             `json:"image_key"`
	Variants    []pipeline.Variant `json:"variants"`
}

type createProductResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (c *CommerceClient) CreateProduct(ctx context.Context, img domain.ImageRef, meta pipeline.ProductMeta) (domain.ProductRef, error) {
	payload, err := json.Marshal(createProductRequest{
		Title:       meta.Title,
		ProductType: meta.ProductType,
		ImageURL:    img.URL,
		ImageKey:    img.StorageKey,
		Variants:    meta.Variants,
	})
	if err != nil {
		return domain.ProductRef{}, domain.NewValidationError(c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/products", bytes.NewReader(payload))
	if err != nil {
		return domain.ProductRef{}, domain.NewValidationError(c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return domain.ProductRef{}, classifyTransport(c.name, err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return domain.ProductRef{}, classifyHTTP(c.name, resp)
	}

	var body createProductResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.ProductRef{}, domain.NewTransientError(c.name, fmt.Errorf("decode product: %w", err))
	}
	if body.ID == "" {
		return domain.ProductRef{}, domain.NewTransientError(c.name, fmt.Errorf("product created without id"))
	}

	return domain.ProductRef{Platform: c.name, ProductID: body.ID, URL: body.URL}, nil
}

func (c *CommerceClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
