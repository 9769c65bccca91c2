package parse

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/spkg/bom"

	"daladala.dev/tracker/storage"
)

// Imports a zipped CSV catalog into storage. The archive holds
// routes.txt, stops.txt, sublines.txt and subline_stops.txt; the
// format mirrors what bus operators publish from their planning
// tools.

type CatalogCounts struct {
	Routes       int
	Stops        int
	Sublines     int
	SublineStops int
}

func ParseCatalog(writer storage.Storage, buf []byte) (*CatalogCounts, error) {
	file := map[string]io.ReadCloser{
		"routes.txt":        nil,
		"stops.txt":         nil,
		"sublines.txt":      nil,
		"subline_stops.txt": nil,
	}

	defer func() {
		for _, rc := range file {
			if rc != nil {
				rc.Close()
			}
		}
	}()

	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("unzipping: %w", err)
	}

	for _, f := range r.File {
		// There should not be any subdirectories. But, some
		// operators don't care.
		if f.FileInfo().IsDir() {
			continue
		}
		path := strings.Split(f.Name, "/")
		fName := path[len(path)-1]

		if _, found := file[fName]; !found {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}

		file[fName] = rc
	}

	for name, rc := range file {
		if rc == nil {
			return nil, fmt.Errorf("missing %s", name)
		}
	}

	// LazyCSVReader survives sloppy use of quotes. The BOM reader
	// strips unicode BOMs if present.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})

	counts := &CatalogCounts{}

	routes, err := ParseRoutes(writer, file["routes.txt"])
	if err != nil {
		return nil, fmt.Errorf("parsing routes.txt: %w", err)
	}
	counts.Routes = len(routes)

	stops, err := ParseStops(writer, file["stops.txt"])
	if err != nil {
		return nil, fmt.Errorf("parsing stops.txt: %w", err)
	}
	counts.Stops = len(stops)

	sublines, err := ParseSublines(writer, file["sublines.txt"], routes)
	if err != nil {
		return nil, fmt.Errorf("parsing sublines.txt: %w", err)
	}
	counts.Sublines = len(sublines)

	counts.SublineStops, err = ParseSublineStops(writer, file["subline_stops.txt"], sublines, stops)
	if err != nil {
		return nil, fmt.Errorf("parsing subline_stops.txt: %w", err)
	}

	return counts, nil
}
