package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/podworks/podworks/internal/breaker"
	"github.com/podworks/podworks/internal/cache"
	"github.com/podworks/podworks/internal/domain"
	"github.com/podworks/podworks/internal/health"
	"github.com/podworks/podworks/internal/metrics"
	"github.com/podworks/podworks/internal/retry"
)

const (
	depImageGen = "imagegen"
	depStorage  = "storage"
)

type DepsConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
	CallTimeout      time.Duration
	Retry            retry.Options
	CatalogTTL       time.Duration
}

// Deps owns the per-dependency breakers and the catalog cache. One
// instance is constructed at startup and passed to the engine; nothing
// here is a global.
type Deps struct {
	generator ImageGenerator
	storage   ImageStore
	platforms map[string]CommercePlatform

	breakers map[string]*breaker.Breaker
	catalog  *cache.Cache[[]Variant]

	cfg    DepsConfig
	logger *slog.Logger
}

func NewDeps(gen ImageGenerator, storage ImageStore, platforms []CommercePlatform, cfg DepsConfig, logger *slog.Logger) *Deps {
	d := &Deps{
		generator: gen,
		storage:   storage,
		platforms: make(map[string]CommercePlatform, len(platforms)),
		breakers:  make(map[string]*breaker.Breaker),
		catalog:   cache.New[[]Variant](cfg.CatalogTTL, 2*cfg.CatalogTTL),
		cfg:       cfg,
		logger:    logger.With("component", "pipeline_deps"),
	}

	d.breakers[depImageGen] = breaker.New(depImageGen, cfg.FailureThreshold, cfg.Cooldown)
	d.breakers[depStorage] = breaker.New(depStorage, cfg.FailureThreshold, cfg.Cooldown)
	for _, p := range platforms {
		d.platforms[p.Name()] = p
		d.breakers[p.Name()] = breaker.New(p.Name(), cfg.FailureThreshold, cfg.Cooldown)
	}
	return d
}

// Platform resolves a requested publish target by name.
func (d *Deps) Platform(name string) (CommercePlatform, bool) {
	p, ok := d.platforms[name]
	return p, ok
}

func (d *Deps) PlatformNames() []string {
	names := make([]string, 0, len(d.platforms))
	for name := range d.platforms {
		names = append(names, name)
	}
	return names
}

// Breakers implements health.BreakerSource. The image backend and storage
// are critical; publish platforms only degrade health when open.
func (d *Deps) Breakers() []health.BreakerInfo {
	infos := make([]health.BreakerInfo, 0, len(d.breakers))
	for name, b := range d.breakers {
		infos = append(infos, health.BreakerInfo{
			Dependency: name,
			State:      b.State(),
			Critical:   name == depImageGen || name == depStorage,
		})
	}
	return infos
}

// call wraps one external operation with the per-call timeout, the
// dependency's breaker, and the retry policy, in that order: every retry
// attempt consults the breaker first, and a circuit-open result fails the
// attempt immediately.
func (d *Deps) call(ctx context.Context, dep string, op func(context.Context) error) error {
	b, ok := d.breakers[dep]
	if !ok {
		return fmt.Errorf("unknown dependency %q", dep)
	}

	return retry.Execute(ctx, func(ctx context.Context) error {
		start := time.Now()
		err := b.Do(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
			defer cancel()
			return op(callCtx)
		})

		outcome := "success"
		if err != nil {
			outcome = string(domain.ClassOf(err))
		}
		metrics.ExternalCallDuration.WithLabelValues(dep, outcome).Observe(time.Since(start).Seconds())
		return err
	}, d.cfg.Retry)
}

func (d *Deps) GenerateImage(ctx context.Context, prompt string, seed int) (Image, error) {
	var img Image
	err := d.call(ctx, depImageGen, func(ctx context.Context) error {
		var err error
		img, err = d.generator.Generate(ctx, prompt, seed)
		return err
	})
	return img, err
}

func (d *Deps) SaveImage(ctx context.Context, img Image) (domain.ImageRef, error) {
	var ref domain.ImageRef
	err := d.call(ctx, depStorage, func(ctx context.Context) error {
		var err error
		ref, err = d.storage.Save(ctx, img)
		return err
	})
	return ref, err
}

func (d *Deps) CreateProduct(ctx context.Context, p CommercePlatform, img domain.ImageRef, meta ProductMeta) (domain.ProductRef, error) {
	var ref domain.ProductRef
	err := d.call(ctx, p.Name(), func(ctx context.Context) error {
		var err error
		ref, err = p.CreateProduct(ctx, img, meta)
		return err
	})
	return ref, err
}

// CatalogVariants memoizes the platform's variant catalog; the catalog
// changes rarely and the lookup is on the product-creation hot path.
func (d *Deps) CatalogVariants(ctx context.Context, p CommercePlatform, productType string) ([]Variant, error) {
	key := p.Name() + ":" + productType
	if variants, ok := d.catalog.Get(key); ok {
		metrics.CatalogCacheLookups.WithLabelValues("hit").Inc()
		return variants, nil
	}
	metrics.CatalogCacheLookups.WithLabelValues("miss").Inc()

	var variants []Variant
	err := d.call(ctx, p.Name(), func(ctx context.Context) error {
		var err error
		variants, err = p.Variants(ctx, productType)
		return err
	})
	if err != nil {
		return nil, err
	}
	d.catalog.Set(key, variants, d.cfg.CatalogTTL)
	return variants, nil
}
