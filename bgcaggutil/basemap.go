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
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
	"github.com/ereefs/bgcagg"
	goshp "github.com/jonas-p/go-shp"
)

// DefaultBasemapURL is the location of the coastline and reef boundary
// shapefiles used as a basemap for plots of the aggregates.
const DefaultBasemapURL = "https://nextcloud.eatlas.org.au/s/RGwTFcLtmPApEcQ/download"

// browserAgent is sent with basemap downloads; the file server rejects
// requests that do not look like they come from a browser.
const browserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.3"

// Shapefile summarizes a shapefile extracted from a basemap archive.
type Shapefile struct {
	Path    string
	Records int
	Type    goshp.ShapeType
	Fields  []string
	Bounds  goshp.Box

	// Projection is the contents of the .prj file, if there is one, and
	// SR is its parsed form if it could be parsed.
	Projection string
	SR         *proj.SR
}

// DownloadAndUnzip downloads the zip archive at url into dest, extracts
// it there and removes the archive. Download progress is reported to obs
// in blocks of bgcagg.BlockSize bytes. It returns a summary of each
// shapefile in the archive.
func DownloadAndUnzip(ctx context.Context, client *http.Client, url, dest string, obs bgcagg.Observer) ([]Shapefile, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if obs == nil {
		obs = bgcagg.NopObserver{}
	}
	if err := os.MkdirAll(dest, os.ModePerm); err != nil {
		return nil, fmt.Errorf("bgcaggutil: creating basemap directory: %v", err)
	}
	zipPath := filepath.Join(dest, "temp_file.zip")
	if err := download(ctx, client, url, zipPath, obs); err != nil {
		os.Remove(zipPath)
		return nil, err
	}
	files, err := unzip(zipPath, dest)
	if err != nil {
		os.Remove(zipPath)
		return nil, err
	}
	if err := os.Remove(zipPath); err != nil {
		return nil, fmt.Errorf("bgcaggutil: removing downloaded archive: %v", err)
	}
	var o []Shapefile
	for _, f := range files {
		if !strings.EqualFold(filepath.Ext(f), ".shp") {
			continue
		}
		s, err := describeShapefile(f)
		if err != nil {
			return o, err
		}
		o = append(o, s)
	}
	return o, nil
}

func download(ctx context.Context, client *http.Client, url, path string, obs bgcagg.Observer) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("bgcaggutil: downloading basemap: %v", err)
	}
	req.Header.Set("User-Agent", browserAgent)
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bgcaggutil: downloading basemap: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bgcaggutil: downloading basemap: %s", resp.Status)
	}
	w, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("bgcaggutil: creating file for download: %v", err)
	}
	total := resp.ContentLength
	buf := make([]byte, bgcagg.BlockSize)
	var read int64
	for {
		n, err := io.ReadFull(resp.Body, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				w.Close()
				return fmt.Errorf("bgcaggutil: writing download: %v", werr)
			}
			read += int64(n)
			obs.Progress(read/bgcagg.BlockSize, bgcagg.BlockSize, total)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			w.Close()
			return fmt.Errorf("bgcaggutil: downloading basemap: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("bgcaggutil: writing download: %v", err)
	}
	return nil
}

// unzip extracts the archive at path into dest and returns the paths of
// the extracted files. Entries that would be written outside of dest are
// rejected.
func unzip(path, dest string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("bgcaggutil: opening basemap archive: %v", err)
	}
	defer r.Close()
	root, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range r.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return files, fmt.Errorf("bgcaggutil: archive entry %q is outside of the destination", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, os.ModePerm); err != nil {
				return files, err
			}
			continue
		}
		if err := extract(f, target); err != nil {
			return files, fmt.Errorf("bgcaggutil: extracting %s: %v", f.Name, err)
		}
		files = append(files, target)
	}
	return files, nil
}

func extract(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	w, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func describeShapefile(path string) (Shapefile, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return Shapefile{}, fmt.Errorf("bgcaggutil: opening shapefile %s: %v", path, err)
	}
	defer d.Close()
	s := Shapefile{
		Path:   path,
		Type:   d.GeometryType,
		Bounds: d.BBox(),
	}
	for _, f := range d.Fields() {
		s.Fields = append(s.Fields, strings.TrimRight(string(f.Name[:]), "\x00"))
	}
	for d.Next() {
		s.Records++
	}
	if b, err := os.ReadFile(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"); err == nil {
		s.Projection = string(b)
		s.SR, _ = d.SR()
	}
	return s, nil
}
