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
	"io/ioutil"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ereefs/bgcagg/cloud"
	"github.com/golang/groupcache/lru"
	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
)

// BlockSize is the number of bytes requested from a remote source at a
// time.
const BlockSize = 8192 * 32

// userAgent identifies requests made by this package.
const userAgent = "bgcagg/" + Version

// rangeFunc fetches n bytes starting at off.
type rangeFunc func(ctx context.Context, off, n int64) ([]byte, error)

// blockReader is an io.ReaderAt over a remote file that fetches whole
// blocks and keeps the most recently used ones in memory.
type blockReader struct {
	ctx     context.Context
	fetch   rangeFunc
	size    int64
	retries int
	obs     Observer
	log     logrus.FieldLogger

	mu      sync.Mutex
	cache   *lru.Cache
	fetched int64
}

func newBlockReader(ctx context.Context, fetch rangeFunc, size int64, opts SourceOptions) *blockReader {
	return &blockReader{
		ctx:     ctx,
		fetch:   fetch,
		size:    size,
		retries: opts.Retries,
		obs:     opts.Observer,
		log:     opts.Log,
		cache:   lru.New(opts.CacheBlocks),
	}
}

func (r *blockReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && off < r.size {
		i := off / BlockSize
		b, err := r.block(i)
		if err != nil {
			return n, err
		}
		c := copy(p[n:], b[off-i*BlockSize:])
		n += c
		off += int64(c)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// block returns block i, fetching it if it is not cached.
func (r *blockReader) block(i int64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.cache.Get(i); ok {
		return b.([]byte), nil
	}
	off := i * BlockSize
	n := int64(BlockSize)
	if off+n > r.size {
		n = r.size - off
	}
	var b []byte
	op := func() error {
		var err error
		b, err = r.fetch(r.ctx, off, n)
		if err != nil {
			return err
		}
		if int64(len(b)) != n {
			return fmt.Errorf("received %d of %d bytes at offset %d", len(b), n, off)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.log.WithFields(logrus.Fields{"offset": off, "retry_in": wait}).Warnf("remote read failed: %v", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(r.policy(), r.ctx), notify); err != nil {
		return nil, err
	}
	r.cache.Add(i, b)
	r.fetched++
	r.obs.Progress(r.fetched, BlockSize, r.size)
	return b, nil
}

// policy returns the retry policy for a block. WithMaxRetries treats
// zero as unlimited, so no retries needs its own policy.
func (r *blockReader) policy() backoff.BackOff {
	if r.retries <= 0 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(r.retries))
}

// httpRange returns a rangeFunc that reads url with HTTP range requests,
// along with the size of the resource.
func httpRange(ctx context.Context, client *http.Client, url string) (rangeFunc, int64, error) {
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, 0, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("HEAD %s: %s", url, resp.Status)
	}
	if resp.ContentLength < 0 {
		return nil, 0, fmt.Errorf("HEAD %s: server did not report the content length", url)
	}
	fetch := func(ctx context.Context, off, n int64) ([]byte, error) {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+n-1))
		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusPartialContent:
		case resp.StatusCode == http.StatusOK:
			return nil, backoff.Permanent(fmt.Errorf("GET %s: server does not support range requests", url))
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
		default:
			return nil, backoff.Permanent(fmt.Errorf("GET %s: %s", url, resp.Status))
		}
		return ioutil.ReadAll(resp.Body)
	}
	return fetch, resp.ContentLength, nil
}

// blobRange returns a rangeFunc that reads the blob key from bucket,
// along with the size of the blob.
func blobRange(ctx context.Context, bucket *blob.Bucket, key string) (rangeFunc, int64, error) {
	size, err := cloud.Size(ctx, bucket, key)
	if err != nil {
		return nil, 0, err
	}
	fetch := func(ctx context.Context, off, n int64) ([]byte, error) {
		return cloud.ReadRange(ctx, bucket, key, off, n)
	}
	return fetch, size, nil
}
