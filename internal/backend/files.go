/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrBadRef is returned for file references that are not plain file names.
var ErrBadRef = errors.New("backend: invalid file reference")

// DiskFiles stores uploaded images in a flat directory under generated names.
type DiskFiles struct {
	Dir string
}

var imageExt = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

// ExtFor returns the file extension for an image content type, or "" if unsupported.
func ExtFor(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	return imageExt[strings.TrimSpace(strings.ToLower(ct))]
}

// Put stores r under a new reference with ext and returns the reference.
func (d DiskFiles) Put(_ context.Context, r io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", err
	}
	ref := uuid.NewString() + ext
	tmp, err := os.CreateTemp(d.Dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.Dir, ref)); err != nil {
		return "", err
	}
	return ref, nil
}

// Open returns the stored file for ref.
func (d DiskFiles) Open(ref string) (*os.File, error) {
	p, err := d.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// DeleteFile removes ref. Deleting a missing file is not an error.
func (d DiskFiles) DeleteFile(_ context.Context, ref string) error {
	p, err := d.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (d DiskFiles) path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", ErrBadRef
	}
	return filepath.Join(d.Dir, ref), nil
}
