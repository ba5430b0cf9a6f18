package pipeline

import (
	"context"

	"github.com/podworks/podworks/internal/domain"
)

// Image is a generated design before it is persisted.
type Image struct {
	ID   string
	Data []byte
	Mime string
}

// Variant is one sellable configuration of a product type on a platform.
type Variant struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	PriceCents int    `json:"price_cents"`
}

// ProductMeta carries everything a platform needs to create a product
// from a persisted image.
type ProductMeta struct {
	Title       string
	ProductType string
	Variants    []Variant
}

// ImageGenerator produces one image per call; the generate handler fans
// calls out for multi-image requests.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string, seed int) (Image, error)
}

// ImageStore persists a generated image and returns a durable reference.
type ImageStore interface {
	Save(ctx context.Context, img Image) (domain.ImageRef, error)
}

// CommercePlatform creates products on one sales platform. Implementations
// must return domain.ClassifiedError so retries and breakers can act on
// failures generically.
type CommercePlatform interface {
	Name() string
	Variants(ctx context.Context, productType string) ([]Variant, error)
	CreateProduct(ctx context.Context, img domain.ImageRef, meta ProductMeta) (domain.ProductRef, error)
}

// Reporter lets handlers surface progress and log lines without knowing
// about the job store or the event bus.
type Reporter interface {
	Progress(ctx context.Context, pct int)
	Log(ctx context.Context, level domain.LogLevel, msg string)
}
