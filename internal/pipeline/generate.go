package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/podworks/podworks/internal/domain"
)

// Progress checkpoints at stage boundaries. Generation is the slow stage
// and gets most of the range.
const (
	progressGenerating = 10
	progressGenerated  = 60
	progressPersisted  = 70
	progressPublishing = 85
)

// runGenerate executes one design through the pipeline. Independent
// sub-operations (images, publish targets) may fail without failing the
// job: their failures are recorded in the result's error list. Only a
// fully failed generation stage fails the job.
func (e *Engine) runGenerate(ctx context.Context, req *domain.GenerateRequest, rep Reporter) (*domain.GenerateResult, error) {
	count := req.Count
	if count <= 0 {
		count = 1
	}

	result := &domain.GenerateResult{}
	rep.Progress(ctx, progressGenerating)
	rep.Log(ctx, domain.LogLevelInfo, fmt.Sprintf("generating %d image(s)", count))

	images, genErrs := e.generateImages(ctx, req.Prompt, count)
	result.Errors = append(result.Errors, genErrs...)
	if len(images) == 0 {
		// Total generation failure: nothing downstream can run.
		return nil, fmt.Errorf("generation produced no images: %s", stageErrorSummary(genErrs))
	}
	rep.Progress(ctx, progressGenerated)

	for _, img := range images {
		ref, err := e.deps.SaveImage(ctx, img)
		if err != nil {
			result.Errors = append(result.Errors, domain.StageError{
				Stage:      "persist",
				Dependency: depStorage,
				Message:    err.Error(),
			})
			continue
		}
		result.Images = append(result.Images, ref)
	}
	if len(result.Images) == 0 {
		return nil, fmt.Errorf("no generated image could be persisted")
	}
	rep.Progress(ctx, progressPersisted)
	rep.Log(ctx, domain.LogLevelInfo, fmt.Sprintf("persisted %d image(s)", len(result.Images)))

	if req.AutoPublish {
		rep.Progress(ctx, progressPublishing)
		products, pubErrs := e.publish(ctx, req, result.Images[0], rep)
		result.Products = products
		result.Errors = append(result.Errors, pubErrs...)
	}

	if len(result.Errors) > 0 {
		rep.Log(ctx, domain.LogLevelWarn,
			fmt.Sprintf("completed with %d partial failure(s): %s",
				len(result.Errors), stageErrorSummary(result.Errors)))
	}
	return result, nil
}

// generateImages fans out up to BatchConcurrency concurrent calls to the
// image backend. Each call carries its own retry/breaker wrapping.
func (e *Engine) generateImages(ctx context.Context, prompt string, count int) ([]Image, []domain.StageError) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		images []Image
		errs   []domain.StageError
	)
	sem := make(chan struct{}, e.cfg.BatchConcurrency)

	for i := 0; i < count; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(seed int) {
			defer wg.Done()
			defer func() { <-sem }()

			img, err := e.deps.GenerateImage(ctx, prompt, seed)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, domain.StageError{
					Stage:      "generate",
					Dependency: depImageGen,
					Message:    err.Error(),
				})
				return
			}
			images = append(images, img)
		}(i)
	}
	wg.Wait()
	return images, errs
}

// publish creates one product per requested platform and product type,
// fanning platforms out concurrently. A platform failure is recorded and
// does not block the others.
func (e *Engine) publish(ctx context.Context, req *domain.GenerateRequest, img domain.ImageRef, rep Reporter) ([]domain.ProductRef, []domain.StageError) {
	platforms := req.Platforms
	if len(platforms) == 0 {
		platforms = e.deps.PlatformNames()
	}
	productTypes := req.ProductTypes
	if len(productTypes) == 0 {
		productTypes = []string{"tshirt"}
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		products []domain.ProductRef
		errs     []domain.StageError
	)
	sem := make(chan struct{}, e.cfg.PublishConcurrency)

	for _, name := range platforms {
		platform, ok := e.deps.Platform(name)
		if !ok {
			errs = append(errs, domain.StageError{
				Stage:   "publish",
				Message: fmt.Sprintf("unknown platform %q", name),
			})
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(p CommercePlatform) {
			defer wg.Done()
			defer func() { <-sem }()

			refs, perr := e.publishToPlatform(ctx, p, img, req, productTypes)
			mu.Lock()
			defer mu.Unlock()
			products = append(products, refs...)
			errs = append(errs, perr...)
		}(platform)
	}
	wg.Wait()

	rep.Log(ctx, domain.LogLevelInfo,
		fmt.Sprintf("published %d product(s) across %d platform(s)", len(products), len(platforms)))
	return products, errs
}

func (e *Engine) publishToPlatform(ctx context.Context, p CommercePlatform, img domain.ImageRef, req *domain.GenerateRequest, productTypes []string) ([]domain.ProductRef, []domain.StageError) {
	var refs []domain.ProductRef
	var errs []domain.StageError

	for _, productType := range productTypes {
		variants, err := e.deps.CatalogVariants(ctx, p, productType)
		if err != nil {
			errs = append(errs, domain.StageError{
				Stage:      "publish",
				Dependency: p.Name(),
				Message:    fmt.Sprintf("%s variant catalog: %v", productType, err),
			})
			continue
		}

		title := req.Title
		if title == "" {
			title = req.Prompt
		}
		ref, err := e.deps.CreateProduct(ctx, p, img, ProductMeta{
			Title:       title,
			ProductType: productType,
			Variants:    variants,
		})
		if err != nil {
			errs = append(errs, domain.StageError{
				Stage:      "publish",
				Dependency: p.Name(),
				Message:    fmt.Sprintf("create %s: %v", productType, err),
			})
			continue
		}
		refs = append(refs, ref)
	}
	return refs, errs
}

// stageErrorSummary folds stage errors into one line for logs.
func stageErrorSummary(errs []domain.StageError) string {
	merr := &multierror.Error{}
	for _, se := range errs {
		merr = multierror.Append(merr, fmt.Errorf("%s/%s: %s", se.Stage, se.Dependency, se.Message))
	}
	if err := merr.ErrorOrNil(); err != nil {
		return err.Error()
	}
	return ""
}
