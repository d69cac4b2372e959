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

package cloud

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"gocloud.dev/blob"
)

// Size returns the size in bytes of the blob with the given key.
func Size(ctx context.Context, bucket *blob.Bucket, key string) (int64, error) {
	a, err := bucket.Attributes(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("cloud: reading attributes of blob %s: %v", key, err)
	}
	return a.Size, nil
}

// ReadRange reads length bytes of the given blob starting at offset.
func ReadRange(ctx context.Context, bucket *blob.Bucket, key string, offset, length int64) ([]byte, error) {
	r, err := bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		return nil, fmt.Errorf("cloud: reading blob %s: %v", key, err)
	}
	defer r.Close()
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cloud: reading blob %s: %v", key, err)
	}
	return b, nil
}

// Upload copies the local file at filename to the blob at location,
// which is in the format 'provider://bucket/key'.
func Upload(ctx context.Context, filename, location string) error {
	r, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("cloud: opening file '%s' for upload: %v", filename, err)
	}
	defer r.Close()
	bucket, key, err := OpenObject(ctx, location)
	if err != nil {
		return fmt.Errorf("cloud: opening bucket to upload file '%s': %v", location, err)
	}
	defer bucket.Close()
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{})
	if err != nil {
		return fmt.Errorf("cloud: creating writer for blob %s: %v", location, err)
	}
	if _, err = io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("cloud: copying %s to blob %s: %v", filename, location, err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("cloud: writing blob %s: %v", location, err)
	}
	return nil
}
