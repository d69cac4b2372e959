/*
Copyright © 2020 the bgcagg authors.
This file is part of bgcagg.

bgcagg is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

bgcagg is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with bgcagg.  If not, see <http://www.gnu.org/licenses/>.
*/

package bgcaggutil

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ereefs/bgcagg"
	goshp "github.com/jonas-p/go-shp"
)

type reef struct {
	geom.Polygon
	Name string
}

// writeReefs writes a two-record polygon shapefile with a projection file
// to dir and returns the names of its files.
func writeReefs(t *testing.T, dir string) []string {
	t.Helper()
	base := filepath.Join(dir, "reefs")
	e, err := shp.NewEncoder(base+".shp", reef{})
	if err != nil {
		t.Fatal(err)
	}
	for i, name := range []string{"Reef A", "Reef B"} {
		x := 145 + float64(i)
		r := reef{
			Polygon: geom.Polygon{{{X: x, Y: -16}, {X: x + 0.5, Y: -16}, {X: x + 0.5, Y: -16.5}, {X: x, Y: -16}}},
			Name:    name,
		}
		if err := e.Encode(r); err != nil {
			t.Fatal(err)
		}
	}
	e.Close()
	// Some releases of go-shp leave the dot out of the attribute file name.
	if _, err := os.Stat(base + "dbf"); err == nil {
		if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(base+".prj", []byte("+proj=longlat +datum=WGS84 +no_defs"), 0644); err != nil {
		t.Fatal(err)
	}
	return []string{"reefs.shp", "reefs.shx", "reefs.dbf", "reefs.prj"}
}

// zipArchive returns a zip archive holding the named files from dir,
// stored under prefix, and the extra entries given by name and contents.
func zipArchive(t *testing.T, dir, prefix string, files []string, extra map[string]string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	add := func(name string, b []byte) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(b); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		b, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			t.Fatal(err)
		}
		add(prefix+f, b)
	}
	for name, contents := range extra {
		add(name, []byte(contents))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// serveArchive serves b to clients that identify as browsers.
func serveArchive(b []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != browserAgent {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Write(b)
	}))
}

type progress struct {
	bgcagg.NopObserver
	calls int
	total int64
}

func (p *progress) Progress(count, unit, total int64) {
	p.calls++
	p.total = total
}

func TestDownloadAndUnzip(t *testing.T) {
	src := t.TempDir()
	archive := zipArchive(t, src, "gbr/", writeReefs(t, src),
		map[string]string{"gbr/README.txt": "basemap"})
	s := serveArchive(archive)
	defer s.Close()

	dest := filepath.Join(t.TempDir(), "src-data")
	p := new(progress)
	shps, err := DownloadAndUnzip(context.Background(), s.Client(), s.URL, dest, p)
	if err != nil {
		t.Fatal(err)
	}
	if len(shps) != 1 {
		t.Fatalf("have %d shapefiles, want 1", len(shps))
	}
	r := shps[0]
	if r.Path != filepath.Join(dest, "gbr", "reefs.shp") {
		t.Errorf("path: %s", r.Path)
	}
	if r.Records != 2 {
		t.Errorf("records: have %d, want 2", r.Records)
	}
	if r.Type != goshp.POLYGON {
		t.Errorf("type: have %v, want polygon", r.Type)
	}
	if len(r.Fields) != 1 || r.Fields[0] != "Name" {
		t.Errorf("fields: %v", r.Fields)
	}
	if r.Bounds.MinX != 145 || r.Bounds.MaxX != 146.5 || r.Bounds.MinY != -16.5 || r.Bounds.MaxY != -16 {
		t.Errorf("bounds: %+v", r.Bounds)
	}
	if !strings.HasPrefix(r.Projection, "+proj=longlat") || r.SR == nil {
		t.Errorf("projection: %q, %v", r.Projection, r.SR)
	}
	if b, err := os.ReadFile(filepath.Join(dest, "gbr", "README.txt")); err != nil || string(b) != "basemap" {
		t.Errorf("README: %q, %v", b, err)
	}
	if _, err := os.Stat(filepath.Join(dest, "temp_file.zip")); !os.IsNotExist(err) {
		t.Errorf("archive was not removed: %v", err)
	}
	if p.calls == 0 || p.total != int64(len(archive)) {
		t.Errorf("progress: %d calls, total %d, want total %d", p.calls, p.total, len(archive))
	}
}

func TestDownloadAndUnzip_outsideDestination(t *testing.T) {
	archive := zipArchive(t, t.TempDir(), "", nil, map[string]string{"../escaped.txt": "x"})
	s := serveArchive(archive)
	defer s.Close()

	parent := t.TempDir()
	dest := filepath.Join(parent, "basemap")
	_, err := DownloadAndUnzip(context.Background(), s.Client(), s.URL, dest, nil)
	if err == nil {
		t.Error("want error for entry outside of the destination")
	}
	if _, err := os.Stat(filepath.Join(parent, "escaped.txt")); !os.IsNotExist(err) {
		t.Errorf("entry was extracted outside of the destination: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "temp_file.zip")); !os.IsNotExist(err) {
		t.Errorf("archive was not removed: %v", err)
	}
}

func TestDownloadAndUnzip_errors(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		default:
			w.Write([]byte("not a zip archive"))
		}
	}))
	defer s.Close()

	for name, url := range map[string]string{
		"status":      s.URL + "/missing",
		"not zip":     s.URL + "/basemap.zip",
		"bad address": "http://127.0.0.1:0/basemap.zip",
	} {
		t.Run(name, func(t *testing.T) {
			dest := t.TempDir()
			if _, err := DownloadAndUnzip(context.Background(), s.Client(), url, dest, nil); err == nil {
				t.Error("want error")
			}
			if _, err := os.Stat(filepath.Join(dest, "temp_file.zip")); !os.IsNotExist(err) {
				t.Errorf("archive was not removed: %v", err)
			}
		})
	}
}
