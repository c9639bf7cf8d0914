// Command mosaicqa runs the mosaic quality analyses over a set of
// drizzled products and writes one JSON artifact per analysis.
//
// Chip images and their tangent-plane WCS parameters come from the
// config file; the drizzled product filenames are positional arguments.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	_ "golang.org/x/image/tiff"

	"mosaicqa/internal/catalog"
	"mosaicqa/internal/config"
	"mosaicqa/internal/product"
	"mosaicqa/internal/quality"
	"mosaicqa/internal/version"
	"mosaicqa/pkg/geometry"
)

func main() {
	cfgPath := flag.String("config", "mosaicqa.yaml", "Path to config file")
	outDir := flag.String("out", "", "Output directory for artifacts (overrides config)")
	refCatPath := flag.String("refcat", "", "Astrometric reference catalog (ECSV)")
	fieldW := flag.Float64("field-width", 4096, "Field width in pixels for reference distribution")
	fieldH := flag.Float64("field-height", 4096, "Field height in pixels for reference distribution")
	workers := flag.Int("workers", 1, "Products analyzed concurrently")
	verbose := flag.Bool("v", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: mosaicqa -config <file> [options] <drizzle file>...")
		os.Exit(1)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.LoadConfiguration(*cfgPath)
	if err != nil {
		log.WithError(err).Fatal("cannot load configuration")
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}

	chips, err := loadChips(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("cannot load chip images")
	}
	defer func() {
		for _, c := range chips {
			c.Image.Close()
		}
	}()

	var refCat *catalog.Catalog
	if *refCatPath != "" {
		refCat, err = catalog.ReadECSV(*refCatPath)
		if err != nil {
			log.WithError(err).Fatal("cannot read reference catalog")
		}
		log.WithField("sources", refCat.Len()).Info("loaded reference catalog")
	}

	field := geometry.Rect{Width: *fieldW, Height: *fieldH}
	inputs, err := buildInputs(flag.Args(), cfg, chips, refCat, field, log)
	if err != nil {
		log.WithError(err).Fatal("cannot assemble product inputs")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	analyzer := quality.NewAnalyzer(cfg, log)
	paths, err := analyzer.RunAll(ctx, inputs, *workers)
	for _, p := range paths {
		fmt.Println(p)
	}
	if err != nil {
		log.WithError(err).Error("quality analysis finished with failures")
		os.Exit(1)
	}
	log.WithField("artifacts", len(paths)).Info("quality analysis complete")
}

// loadChips decodes every image named in the config and couples it with
// its configured group and WCS.
func loadChips(cfg config.Configuration, log *logrus.Logger) ([]quality.ChipImage, error) {
	names := make([]string, 0, len(cfg.Images))
	for name := range cfg.Images {
		names = append(names, name)
	}
	sort.Strings(names)

	var chips []quality.ChipImage
	for _, name := range names {
		w, _ := cfg.WCSFor(name)
		mat, err := readImage(name)
		if err != nil {
			return nil, fmt.Errorf("chip %s: %w", name, err)
		}

		group := cfg.Images[name].Group
		if group == "" {
			group = name
		}
		log.WithFields(logrus.Fields{"chip": name, "group": group}).Debug("loaded chip image")
		chips = append(chips, quality.ChipImage{
			Name:  name,
			Group: group,
			WCS:   w,
			Image: mat,
		})
	}
	return chips, nil
}

// readImage decodes an image file into a Mat through the registered
// stdlib and x/image decoders.
func readImage(path string) (gocv.Mat, error) {
	f, err := os.Open(path)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("decode: %w", err)
	}
	return gocv.ImageToMatRGBA(img)
}

// buildInputs parses each drizzle filename into a product and attaches
// the chips, WCS and reference data its analyses need. Chips attach to
// the product whose visit prefix their filename shares.
func buildInputs(drizzleFiles []string, cfg config.Configuration, chips []quality.ChipImage, refCat *catalog.Catalog, field geometry.Rect, log *logrus.Logger) ([]quality.ProductInput, error) {
	var inputs []quality.ProductInput
	for _, dzf := range drizzleFiles {
		p, err := product.FromDrizzleFile(dzf)
		if err != nil {
			return nil, err
		}

		var owned []quality.ChipImage
		for _, c := range chips {
			if p.IPPPSS == "" || strings.HasPrefix(filepath.Base(c.Name), p.IPPPSS) {
				owned = append(owned, c)
				p.Exposures = append(p.Exposures, c.Name)
			}
		}

		w, ok := cfg.WCSFor(filepath.Base(dzf))
		if !ok && len(owned) > 0 {
			// Fall back on the first chip's transform for catalog work.
			w = owned[0].WCS
		}
		if w == nil {
			log.WithField("product", dzf).Warn("no WCS configured; catalog analyses will be skipped")
		}

		inputs = append(inputs, quality.ProductInput{
			Product:    p,
			Chips:      owned,
			WCS:        w,
			RefCatalog: refCat,
			Field:      field,
		})
	}
	return inputs, nil
}
