package quality

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mosaicqa/internal/catalog"
	"mosaicqa/internal/product"
	"mosaicqa/internal/wcs"
	"mosaicqa/pkg/geometry"
)

// ProductInput bundles one product with the auxiliary data its analyses
// need. Fields other than Product are optional; analyses whose inputs
// are absent are skipped for that product.
type ProductInput struct {
	Product *product.Product

	// Chips are the constituent chip images, for the alignment
	// residual analysis.
	Chips []ChipImage

	// WCS is the product's mosaic-level transform, for catalog
	// cross-matching and reference projection.
	WCS *wcs.TanWCS

	// RefCatalog holds the external astrometric reference sources, with
	// Field and Footprint describing the area they are judged against.
	RefCatalog *catalog.Catalog
	Field      geometry.Rect
	Footprint  []geometry.Point2D
}

// RunAll runs every applicable analysis for each product. Products are
// isolated from one another: a failing analysis is recorded and the
// batch continues. Returns the artifact paths written and the joined
// per-product errors, if any.
func (a *Analyzer) RunAll(ctx context.Context, inputs []ProductInput, workers int) ([]string, error) {
	if workers < 1 {
		workers = 1
	}

	var (
		mu    sync.Mutex
		paths []string
		errs  []error
	)
	collect := func(p []string, err error) {
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, p...)
		if err != nil {
			errs = append(errs, err)
		}
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			collect(nil, err)
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(in ProductInput) {
			defer wg.Done()
			defer func() { <-sem }()
			collect(a.runProduct(ctx, in))
		}(in)
	}
	wg.Wait()

	return paths, errors.Join(errs...)
}

// runProduct runs the analyses one product's inputs support. Each
// analysis failure is wrapped with the product identity; the remaining
// analyses still run.
func (a *Analyzer) runProduct(ctx context.Context, in ProductInput) ([]string, error) {
	p := in.Product
	if p == nil {
		return nil, errors.New("product input with no product")
	}

	var paths []string
	var errs []error
	add := func(path string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("product %s: %w", p.DrizzleFile, err))
			return
		}
		if path != "" {
			paths = append(paths, path)
		}
	}

	if len(in.Chips) > 0 {
		add(a.DetermineAlignmentResiduals(ctx, p.DrizzleFile, in.Chips))
	}

	numPaths, err := a.CompareNumSources([]*product.Product{p})
	paths = append(paths, numPaths...)
	if err != nil {
		errs = append(errs, fmt.Errorf("product %s: %w", p.DrizzleFile, err))
	}

	if in.WCS != nil {
		add(a.CompareRADecCrossmatches(p, in.WCS))
		add(a.ComparePhotometry(p, in.WCS))
	}

	if in.RefCatalog != nil {
		add(a.ReportRefSources(p, in.RefCatalog))
	}
	if in.RefCatalog != nil && in.WCS != nil {
		add(a.CharacterizeRefDistribution(p, in.RefCatalog, in.WCS, in.Field, in.Footprint))
	}

	return paths, errors.Join(errs...)
}
