package parse_test

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daladala.dev/tracker/parse"
	"daladala.dev/tracker/storage"
)

func buildZip(t *testing.T, files map[string][]string) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, content := range files {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(content, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func catalogFiles() map[string][]string {
	return map[string][]string{
		"routes.txt": {
			"route_id,route_name",
			"101,Kimara - Kivukoni",
		},
		"stops.txt": {
			"stop_id,stop_code,stop_name,stop_ref,stop_lat,stop_lng",
			"1,KMR,Kimara,T1,-6.78,39.15",
			"2,UBG,Ubungo,T2,-6.79,39.21",
			"3,KVK,Kivukoni,T4,-6.82,39.29",
		},
		"sublines.txt": {
			"subline_id,route_id,subline_name,direction",
			"1011,101,Kimara - Kivukoni,outbound",
			"1012,101,Kivukoni - Kimara,return",
		},
		"subline_stops.txt": {
			"subline_id,seq,stop_id",
			"1011,0,1",
			"1011,1,2",
			"1011,2,3",
			// Out of order on purpose; seq decides
			"1012,2,1",
			"1012,0,3",
			"1012,1,2",
		},
	}
}

func TestParseCatalog(t *testing.T) {
	s := storage.NewMemoryStorage()

	counts, err := parse.ParseCatalog(s, buildZip(t, catalogFiles()))
	require.NoError(t, err)

	assert.Equal(t, 1, counts.Routes)
	assert.Equal(t, 3, counts.Stops)
	assert.Equal(t, 2, counts.Sublines)
	assert.Equal(t, 6, counts.SublineStops)

	byID, err := s.SublineStops(context.Background(), 101)
	require.NoError(t, err)
	require.Len(t, byID, 2)

	require.Len(t, byID[1011], 3)
	assert.Equal(t, "Kimara", byID[1011][0].Name)
	assert.Equal(t, "Kivukoni", byID[1011][2].Name)

	// 1012 rows were shuffled in the csv; seq ordering wins
	require.Len(t, byID[1012], 3)
	assert.Equal(t, "Kivukoni", byID[1012][0].Name)
	assert.Equal(t, "Kimara", byID[1012][2].Name)
}

func TestParseCatalogSubdirectory(t *testing.T) {
	// Some operators zip a directory rather than the files.
	files := map[string][]string{}
	for name, content := range catalogFiles() {
		files["catalog/"+name] = content
	}

	s := storage.NewMemoryStorage()
	_, err := parse.ParseCatalog(s, buildZip(t, files))
	require.NoError(t, err)
}

func TestParseCatalogMissingFile(t *testing.T) {
	files := catalogFiles()
	delete(files, "sublines.txt")

	s := storage.NewMemoryStorage()
	_, err := parse.ParseCatalog(s, buildZip(t, files))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sublines.txt")
}

func TestParseCatalogBadReferences(t *testing.T) {
	// Subline referencing unknown route
	files := catalogFiles()
	files["sublines.txt"] = append(files["sublines.txt"], "1013,999,Ghost,outbound")
	_, err := parse.ParseCatalog(storage.NewMemoryStorage(), buildZip(t, files))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown route_id")

	// Sequence referencing unknown stop
	files = catalogFiles()
	files["subline_stops.txt"] = append(files["subline_stops.txt"], "1011,3,999")
	_, err = parse.ParseCatalog(storage.NewMemoryStorage(), buildZip(t, files))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stop_id")

	// Repeated seq within a subline
	files = catalogFiles()
	files["subline_stops.txt"] = append(files["subline_stops.txt"], "1011,2,1")
	_, err = parse.ParseCatalog(storage.NewMemoryStorage(), buildZip(t, files))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated seq")
}

func TestParseCatalogRejectsBadStops(t *testing.T) {
	files := catalogFiles()
	files["stops.txt"] = []string{
		"stop_id,stop_code,stop_name,stop_ref,stop_lat,stop_lng",
		"1,KMR,,T1,-6.78,39.15",
	}
	_, err := parse.ParseCatalog(storage.NewMemoryStorage(), buildZip(t, files))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop_name")
}
