package platform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/podworks/podworks/internal/domain"
	"github.com/podworks/podworks/internal/pipeline"
)

func TestImageGenClientGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("missing auth header, got %q", got)
		}
		var req struct {
			Prompt string `json:"prompt"`
			Seed   int    `json:"seed"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Prompt != "mountain sunset" {
			t.Errorf("prompt = %q", req.Prompt)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id":   "img-1",
			"mime": "image/png",
			"data": base64.StdEncoding.EncodeToString([]byte("png-bytes")),
		})
	}))
	defer srv.Close()

	c := NewImageGenClient(srv.URL, "tok")
	img, err := c.Generate(context.Background(), "mountain sunset", 7)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if img.ID != "img-1" || string(img.Data) != "png-bytes" {
		t.Fatalf("unexpected image %+v", img)
	}
}

func TestImageGenClientClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		header http.Header
		class  domain.ErrorClass
	}{
		{http.StatusUnauthorized, nil, domain.ErrClassAuth},
		{http.StatusUnprocessableEntity, nil, domain.ErrClassValidation},
		{http.StatusTooManyRequests, http.Header{"Retry-After": []string{"30"}}, domain.ErrClassRateLimit},
		{http.StatusInternalServerError, nil, domain.ErrClassTransient},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for k, vs := range tc.header {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
			w.WriteHeader(tc.status)
		}))
		c := NewImageGenClient(srv.URL, "")
		_, err := c.Generate(context.Background(), "p", 0)
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: want error", tc.status)
		}
		if got := domain.ClassOf(err); got != tc.class {
			t.Fatalf("status %d: class = %s, want %s", tc.status, got, tc.class)
		}
		if tc.class == domain.ErrClassRateLimit {
			if hint := domain.RetryAfterHint(err); hint != 30*time.Second {
				t.Fatalf("retry-after hint = %s, want 30s", hint)
			}
		}
	}
}

func TestImageGenClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewImageGenClient(srv.URL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, "p", 0)
	if err == nil {
		t.Fatal("want timeout error")
	}
	if got := domain.ClassOf(err); got != domain.ErrClassTimeout {
		t.Fatalf("class = %s, want %s", got, domain.ErrClassTimeout)
	}
}

func TestDiskStoreSave(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, "http://localhost:8080/images")
	if err != nil {
		t.Fatal(err)
	}

	ref, err := store.Save(context.Background(), pipeline.Image{
		ID:   "img-9",
		Data: []byte("jpeg-bytes"),
		Mime: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ref.StorageKey != "img-9.jpg" {
		t.Fatalf("storage key = %q", ref.StorageKey)
	}
	if ref.URL != "http://localhost:8080/images/img-9.jpg" {
		t.Fatalf("url = %q", ref.URL)
	}

	data, err := os.ReadFile(filepath.Join(dir, "img-9.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("stored bytes = %q", data)
	}
}

func TestCommerceClientVariantsAndCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/catalog/variants":
			if pt := r.URL.Query().Get("product_type"); pt != "tshirt" {
				t.Errorf("product_type = %q", pt)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"variants": []map[string]any{
					{"id": "v1", "title": "S / Black", "price_cents": 1999},
					{"id": "v2", "title": "M / Black", "price_cents": 1999},
				},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/products":
			var req createProductRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.ImageKey != "img-1.png" || len(req.Variants) != 2 {
				t.Errorf("unexpected request %+v", req)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{
				"id":  "prod-42",
				"url": "https://shop.example/p/42",
			})
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewCommerceClient("printify", srv.URL, "tok")

	variants, err := c.Variants(context.Background(), "tshirt")
	if err != nil {
		t.Fatalf("Variants: %v", err)
	}
	if len(variants) != 2 || variants[0].ID != "v1" {
		t.Fatalf("variants = %+v", variants)
	}

	ref, err := c.CreateProduct(context.Background(), domain.ImageRef{ID: "img-1", StorageKey: "img-1.png"}, pipeline.ProductMeta{
		Title:       "Mountain Sunset Tee",
		ProductType: "tshirt",
		Variants:    variants,
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if ref.Platform != "printify" || ref.ProductID != "prod-42" {
		t.Fatalf("product ref = %+v", ref)
	}
}

func TestCommerceClientEmptyCatalogIsValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"variants": []any{}})
	}))
	defer srv.Close()

	c := NewCommerceClient("shopify", srv.URL, "")
	_, err := c.Variants(context.Background(), "mug")
	if err == nil {
		t.Fatal("want error for empty catalog")
	}
	if got := domain.ClassOf(err); got != domain.ErrClassValidation {
		t.Fatalf("class = %s, want %s", got, domain.ErrClassValidation)
	}
}
