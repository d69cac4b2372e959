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

package bgcagg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func TestOpenSource_local(t *testing.T) {
	for _, record := range []bool{false, true} {
		t.Run(fmt.Sprintf("record=%v", record), func(t *testing.T) {
			s := newTestSource()
			s.Record = record
			src := openTestSource(t, s.create(t))
			defer src.Close()
			checkSource(t, s, src)
		})
	}
}

// checkSource checks that src holds the data described by s.
func checkSource(t *testing.T, s testSource, src Source) {
	t.Helper()
	if have, want := src.Dimensions("TN"), []string{"time", "k", "j", "i"}; !reflect.DeepEqual(have, want) {
		t.Errorf("dimensions: have %v, want %v", have, want)
	}
	if have, want := src.Shape("DIN"), []int{s.NT, s.NK, s.NY, s.NX}; !reflect.DeepEqual(have, want) {
		t.Errorf("shape: have %v, want %v", have, want)
	}
	if typ := src.Type("Chl_a_sum"); typ != Float {
		t.Errorf("type: have %v, want float", typ)
	}
	if u := src.Attributes("TN").String("units"); u != "mg m-3" {
		t.Errorf("units: have %q", u)
	}
	if title := src.Attributes("").String("title"); title == "" {
		t.Error("missing global title")
	}
	times, err := src.ReadAll("time")
	if err != nil {
		t.Fatal(err)
	}
	if n := len(float64s(times)); n != s.NT {
		t.Errorf("have %d time steps, want %d", n, s.NT)
	}
	vals, err := src.ReadLevel("DIN", 7, 2)
	if err != nil {
		t.Fatal(err)
	}
	f := float64s(vals)
	for c := range f {
		want := s.value(1, 7, 2, c)
		if s.missing(7, c) {
			want = testFill
		}
		if f[c] != want {
			t.Errorf("cell %d: have %v, want %v", c, f[c], want)
		}
	}
	if _, err := src.ReadLevel("DIN", s.NT, 2); err == nil {
		t.Error("reading past the last time step should fail")
	}
	if _, err := src.ReadLevel("latitude", 0, 0); err == nil {
		t.Error("reading a level of a two dimensional variable should fail")
	}
}

func TestOpenSource_http(t *testing.T) {
	s := newTestSource()
	data, err := os.ReadFile(s.create(t))
	if err != nil {
		t.Fatal(err)
	}
	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.UserAgent())
		http.ServeContent(w, r, "monthly.nc", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	rec := new(recorder)
	src, err := OpenSource(context.Background(), srv.URL+"/monthly.nc", SourceOptions{
		Observer: rec,
		Log:      testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	checkSource(t, s, src)
	if rec.progress == 0 {
		t.Error("no progress reported")
	}
	if rec.total != int64(len(data)) {
		t.Errorf("progress total: have %d, want %d", rec.total, len(data))
	}
	if a := agent.Load().(string); a != userAgent {
		t.Errorf("user agent: have %q, want %q", a, userAgent)
	}
}

func TestOpenSource_retry(t *testing.T) {
	s := newTestSource()
	data, err := os.ReadFile(s.create(t))
	if err != nil {
		t.Fatal(err)
	}
	newServer := func(failures int32) (*httptest.Server, *int32) {
		var gets int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet && atomic.AddInt32(&gets, 1) <= failures {
				http.Error(w, "busy", http.StatusServiceUnavailable)
				return
			}
			http.ServeContent(w, r, "monthly.nc", time.Time{}, bytes.NewReader(data))
		}))
		return srv, &gets
	}

	t.Run("recovers", func(t *testing.T) {
		srv, gets := newServer(2)
		defer srv.Close()
		src, err := OpenSource(context.Background(), srv.URL, SourceOptions{Retries: 3, Log: testLogger()})
		if err != nil {
			t.Fatal(err)
		}
		defer src.Close()
		checkSource(t, s, src)
		if n := atomic.LoadInt32(gets); n != 3 {
			t.Errorf("have %d requests, want 3", n)
		}
	})
	t.Run("no retries", func(t *testing.T) {
		srv, gets := newServer(100)
		defer srv.Close()
		_, err := OpenSource(context.Background(), srv.URL, SourceOptions{Log: testLogger()})
		if err == nil {
			t.Fatal("expected an error")
		}
		if n := atomic.LoadInt32(gets); n != 1 {
			t.Errorf("have %d requests, want 1", n)
		}
	})
	t.Run("gives up", func(t *testing.T) {
		srv, gets := newServer(100)
		defer srv.Close()
		_, err := OpenSource(context.Background(), srv.URL, SourceOptions{Retries: 1, Log: testLogger()})
		if err == nil {
			t.Fatal("expected an error")
		}
		if n := atomic.LoadInt32(gets); n != 2 {
			t.Errorf("have %d requests, want 2", n)
		}
	})
}

func TestOpenSource_httpErrors(t *testing.T) {
	s := newTestSource()
	data, err := os.ReadFile(s.create(t))
	if err != nil {
		t.Fatal(err)
	}
	tests := map[string]http.HandlerFunc{
		"not found": func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		},
		"no range support": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", fmt.Sprint(len(data)))
			if r.Method == http.MethodGet {
				w.Write(data)
			}
		},
		"forbidden": func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead {
				w.Header().Set("Content-Length", fmt.Sprint(len(data)))
				return
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			_, err := OpenSource(context.Background(), srv.URL, SourceOptions{Retries: 5, Log: testLogger()})
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Errorf("have error %v, want a ConfigurationError", err)
			}
		})
	}
}

// countingWriter counts the body bytes written to a response.
type countingWriter struct {
	http.ResponseWriter
	n *int64
}

func (w countingWriter) Write(b []byte) (int, error) {
	atomic.AddInt64(w.n, int64(len(b)))
	return w.ResponseWriter.Write(b)
}

func TestOpenSource_remoteNetCDF4(t *testing.T) {
	data := append([]byte("\x89HDF\r\n\x1a\n"), bytes.Repeat([]byte{0}, 16*BlockSize)...)
	var served int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(countingWriter{w, &served}, r, "monthly.nc", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	_, err := OpenSource(context.Background(), srv.URL+"/monthly.nc", SourceOptions{Log: testLogger()})
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Errorf("have error %v, want a ConfigurationError", err)
	}
	// Only the blocks holding the file metadata are read.
	if n := atomic.LoadInt64(&served); n == 0 || n >= int64(len(data)) {
		t.Errorf("served %d of %d bytes", n, len(data))
	}
}

func TestOpenSource_blob(t *testing.T) {
	s := newTestSource()
	path := s.create(t)
	src, err := OpenSource(context.Background(), "file://"+filepath.ToSlash(path), SourceOptions{Log: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	checkSource(t, s, src)
}

func TestOpenSource_invalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string][]byte{
		"text":      []byte("this is not a NetCDF file"),
		"short":     []byte("CD"),
		"bad hdf":   append([]byte("\x89HDF\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...),
		"truncated": []byte("CDF\x01\x00\x00"),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".nc")
			if err := os.WriteFile(path, data, 0644); err != nil {
				t.Fatal(err)
			}
			_, err := OpenSource(context.Background(), path, SourceOptions{})
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Errorf("have error %v, want a ConfigurationError", err)
			}
		})
	}
	_, err := OpenSource(context.Background(), filepath.Join(dir, "missing.nc"), SourceOptions{})
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Errorf("missing file: have error %v, want a ConfigurationError", err)
	}
}

func TestIsRemote(t *testing.T) {
	for loc, want := range map[string]bool{
		"https://thredds.example.org/monthly.nc": true,
		"http://localhost/monthly.nc":            true,
		"s3://bucket/monthly.nc":                 true,
		"gs://bucket/monthly.nc":                 true,
		"file:///data/monthly.nc":                true,
		"/data/monthly.nc":                       false,
		"src-data/monthly.nc":                    false,
	} {
		if have := IsRemote(loc); have != want {
			t.Errorf("%s: have %v, want %v", loc, have, want)
		}
	}
}

func TestBlockReader(t *testing.T) {
	data := make([]byte, BlockSize*5/2)
	for i := range data {
		data[i] = byte(i % 251)
	}
	var fetches int
	fetch := func(ctx context.Context, off, n int64) ([]byte, error) {
		fetches++
		return data[off : off+n], nil
	}
	opts := SourceOptions{CacheBlocks: 2}
	opts.setDefaults()
	r := newBlockReader(context.Background(), fetch, int64(len(data)), opts)

	// Spans the boundary between the first two blocks.
	p := make([]byte, 100)
	off := int64(BlockSize - 50)
	if n, err := r.ReadAt(p, off); err != nil || n != len(p) {
		t.Fatalf("have %d bytes and error %v", n, err)
	}
	if !bytes.Equal(p, data[off:off+100]) {
		t.Error("wrong data across block boundary")
	}
	if fetches != 2 {
		t.Errorf("have %d fetches, want 2", fetches)
	}
	if _, err := r.ReadAt(p, 10); err != nil {
		t.Fatal(err)
	}
	if fetches != 2 {
		t.Errorf("cached block was fetched again")
	}

	// The last block is short.
	off = int64(len(data) - 40)
	n, err := r.ReadAt(p, off)
	if err != io.EOF || n != 40 {
		t.Errorf("have %d bytes and error %v, want 40 and EOF", n, err)
	}
	if !bytes.Equal(p[:n], data[off:]) {
		t.Error("wrong data at end of file")
	}
	if _, err := r.ReadAt(p, int64(len(data))); err != io.EOF {
		t.Errorf("have error %v at end of file, want EOF", err)
	}
}

func TestBlockReader_short(t *testing.T) {
	fetch := func(ctx context.Context, off, n int64) ([]byte, error) {
		return make([]byte, n-1), nil
	}
	opts := SourceOptions{Log: testLogger()}
	opts.setDefaults()
	r := newBlockReader(context.Background(), fetch, 10, opts)
	if _, err := r.ReadAt(make([]byte, 4), 0); err == nil {
		t.Error("a short response should fail")
	}
}

func TestBlockReader_retries(t *testing.T) {
	for _, retries := range []int{0, 2} {
		t.Run(fmt.Sprintf("retries=%d", retries), func(t *testing.T) {
			var fetches int
			fetch := func(ctx context.Context, off, n int64) ([]byte, error) {
				fetches++
				return nil, errors.New("connection reset")
			}
			opts := SourceOptions{Retries: retries, Log: testLogger()}
			opts.setDefaults()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			r := newBlockReader(ctx, fetch, 10, opts)
			if _, err := r.ReadAt(make([]byte, 4), 0); err == nil {
				t.Fatal("a failing fetch should fail")
			}
			if ctx.Err() != nil {
				t.Fatal("read was not abandoned before the deadline")
			}
			if fetches != retries+1 {
				t.Errorf("have %d fetches, want %d", fetches, retries+1)
			}
		})
	}
}

type progressRecorder struct {
	NopObserver
	counts, units []int64
}

func (p *progressRecorder) Progress(count, unit, total int64) {
	p.counts = append(p.counts, count)
	p.units = append(p.units, unit)
}

func TestBlockReader_progress(t *testing.T) {
	data := make([]byte, BlockSize+100)
	fetch := func(ctx context.Context, off, n int64) ([]byte, error) {
		return data[off : off+n], nil
	}
	p := new(progressRecorder)
	opts := SourceOptions{Observer: p}
	opts.setDefaults()
	r := newBlockReader(context.Background(), fetch, int64(len(data)), opts)
	if n, err := r.ReadAt(make([]byte, len(data)), 0); err != nil || n != len(data) {
		t.Fatalf("have %d bytes and error %v", n, err)
	}
	if want := []int64{1, 2}; !reflect.DeepEqual(p.counts, want) {
		t.Errorf("counts: have %v, want %v", p.counts, want)
	}
	// The short last block is still reported in whole blocks.
	if want := []int64{BlockSize, BlockSize}; !reflect.DeepEqual(p.units, want) {
		t.Errorf("units: have %v, want %v", p.units, want)
	}
}
