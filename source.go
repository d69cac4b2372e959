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
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/ereefs/bgcagg/cloud"
	"github.com/sirupsen/logrus"
)

// A Source is a gridded dataset that variables are materialized from.
type Source interface {
	// Variables returns the names of the variables in the source.
	Variables() []string

	// Dimensions returns the dimension names of variable v.
	Dimensions(v string) []string

	// Shape returns the length of each dimension of variable v.
	Shape(v string) []int

	// Type returns the element type of variable v.
	Type(v string) DataType

	// Attributes returns the attributes of variable v, or the global
	// attributes if v is empty.
	Attributes(v string) Attributes

	// ReadAll reads every value of variable v.
	ReadAll(v string) (interface{}, error)

	// ReadLevel reads the horizontal slab of four dimensional variable v
	// at time index t and vertical level index level, in row-major
	// (y, x) order.
	ReadLevel(v string, t, level int) (interface{}, error)

	Close() error
}

// SourceOptions configure how a Source is accessed.
type SourceOptions struct {
	// Retries is the number of times a failed remote read is retried.
	Retries int

	// CacheBlocks is the number of remote blocks of BlockSize bytes kept
	// in memory. Zero means 64.
	CacheBlocks int

	// Client is used for HTTP sources. Nil means http.DefaultClient.
	Client *http.Client

	Observer Observer
	Log      logrus.FieldLogger
}

func (o *SourceOptions) setDefaults() {
	if o.CacheBlocks <= 0 {
		o.CacheBlocks = 64
	}
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
}

// IsRemote returns whether location refers to a dataset served over HTTP
// or held in blob storage.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") ||
		cloud.IsBlob(location)
}

// OpenSource opens the dataset at location, which may be a local file,
// an http(s) URL of a server that supports byte range requests, or a
// blob in the form 'provider://bucket/key'. Both NetCDF classic and
// NetCDF-4 files are supported. Remote files are read on demand through
// a block cache and are never copied whole.
func OpenSource(ctx context.Context, location string, opts SourceOptions) (Source, error) {
	opts.setDefaults()
	if !IsRemote(location) {
		return openLocalSource(location)
	}
	var (
		fetch  rangeFunc
		size   int64
		err    error
		closer = func() error { return nil }
	)
	if cloud.IsBlob(location) {
		bucket, key, err2 := cloud.OpenObject(ctx, location)
		if err2 != nil {
			return nil, &ConfigurationError{Setting: "source", Msg: err2.Error()}
		}
		closer = bucket.Close
		fetch, size, err = blobRange(ctx, bucket, key)
	} else {
		fetch, size, err = httpRange(ctx, opts.Client, location)
	}
	if err != nil {
		closer()
		return nil, &ConfigurationError{Setting: "source",
			Msg: fmt.Sprintf("opening %s: %v", location, err)}
	}
	opts.Log.WithFields(logrus.Fields{"source": location, "size": size}).Debug("opened remote source")
	r := newBlockReader(ctx, fetch, size, opts)
	kind, err := format(r)
	if err != nil {
		closer()
		return nil, &ConfigurationError{Setting: "source", Msg: err.Error()}
	}
	switch kind {
	case classic:
		s, err := newCDFSource(readOnly{r}, size, closer)
		if err != nil {
			closer()
			return nil, &ConfigurationError{Setting: "source", Msg: err.Error()}
		}
		return s, nil
	default:
		f := &sectionCloser{io.NewSectionReader(r, 0, size), closer}
		s, err := newHDFSource(f, location)
		if err != nil {
			return nil, &ConfigurationError{Setting: "source", Msg: err.Error()}
		}
		return s, nil
	}
}

// sectionCloser is a remote file as a seekable stream.
type sectionCloser struct {
	*io.SectionReader
	close func() error
}

func (s *sectionCloser) Close() error { return s.close() }

func openLocalSource(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigurationError{Setting: "source", Msg: err.Error()}
	}
	kind, err := format(f)
	if err != nil {
		f.Close()
		return nil, &ConfigurationError{Setting: "source", Msg: fmt.Sprintf("%s: %v", path, err)}
	}
	if kind == hdf {
		f.Close()
		s, err := openHDFSource(path)
		if err != nil {
			return nil, &ConfigurationError{Setting: "source", Msg: err.Error()}
		}
		return s, nil
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &ConfigurationError{Setting: "source", Msg: err.Error()}
	}
	s, err := newCDFSource(readOnly{f}, fi.Size(), f.Close)
	if err != nil {
		f.Close()
		return nil, &ConfigurationError{Setting: "source", Msg: fmt.Sprintf("%s: %v", path, err)}
	}
	return s, nil
}

type fileFormat int

const (
	classic fileFormat = iota
	hdf
)

// format identifies a NetCDF file from its leading bytes.
func format(r io.ReaderAt) (fileFormat, error) {
	var magic [4]byte
	if _, err := r.ReadAt(magic[:], 0); err != nil {
		return 0, fmt.Errorf("reading file signature: %v", err)
	}
	switch {
	case string(magic[:3]) == "CDF" && (magic[3] == 1 || magic[3] == 2):
		return classic, nil
	case string(magic[:]) == "\x89HDF":
		return hdf, nil
	}
	return 0, fmt.Errorf("not a NetCDF file (signature %q)", magic[:])
}

// readOnly adapts an io.ReaderAt for cdf.Open.
type readOnly struct {
	io.ReaderAt
}

func (readOnly) WriteAt([]byte, int64) (int, error) {
	return 0, fmt.Errorf("bgcagg: source is read-only")
}

// cdfSource reads a NetCDF classic file.
type cdfSource struct {
	f      *cdf.File
	nrec   int
	closer func() error
}

func newCDFSource(rw cdf.ReaderWriterAt, size int64, closer func() error) (*cdfSource, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, err
	}
	return &cdfSource{f: f, nrec: int(f.Header.NumRecs(size)), closer: closer}, nil
}

func (s *cdfSource) Variables() []string { return s.f.Header.Variables() }

func (s *cdfSource) Dimensions(v string) []string { return s.f.Header.Dimensions(v) }

func (s *cdfSource) Shape(v string) []int {
	l := s.f.Header.Lengths(v)
	if s.f.Header.IsRecordVariable(v) {
		o := append([]int{s.nrec}, l[1:]...)
		return o
	}
	return l
}

func (s *cdfSource) Type(v string) DataType { return typeOf(s.f.Header.ZeroValue(v, 0)) }

func (s *cdfSource) Attributes(v string) Attributes { return headerAttributes(s.f.Header, v) }

func (s *cdfSource) ReadAll(v string) (interface{}, error) {
	vals, err := readWhole(s.f, v, s.Shape(v))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v", v, err)
	}
	if b, ok := vals.([]uint8); ok && s.Type(v) == Char {
		return strings.TrimRight(string(b), "\x00"), nil
	}
	return vals, nil
}

func (s *cdfSource) ReadLevel(v string, t, level int) (interface{}, error) {
	shape := s.Shape(v)
	if len(shape) != 4 {
		return nil, fmt.Errorf("variable %s has %d dimensions, want 4", v, len(shape))
	}
	if t < 0 || t >= shape[0] || level < 0 || level >= shape[1] {
		return nil, fmt.Errorf("index (%d, %d) out of range for %s with shape %v", t, level, v, shape)
	}
	begin := []int{t, level, 0, 0}
	end := []int{t, level, shape[2] - 1, shape[3] - 1}
	vals, err := readSpan(s.f, v, begin, end, shape[2]*shape[3])
	if err != nil {
		return nil, fmt.Errorf("reading %s at time index %d: %v", v, t, err)
	}
	return vals, nil
}

func (s *cdfSource) Close() error { return s.closer() }
