/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package schema validates Taski JSON documents (realtime payloads and board
// snapshots) against embedded JSON Schemas.
package schema

import (
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	gojsonschema "github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var files embed.FS

// Kind names an embedded schema.
type Kind string

const (
	Element  Kind = "element"
	Project  Kind = "project"
	Snapshot Kind = "snapshot"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("schema: document does not conform")

var (
	compileOnce sync.Once
	compiled    map[Kind]*gojsonschema.Schema
	compileErr  error
)

func load() (map[Kind]*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = map[Kind]*gojsonschema.Schema{}
		raw := map[Kind][]byte{}
		for _, k := range []Kind{Element, Project, Snapshot} {
			b, err := files.ReadFile("schemas/" + string(k) + ".schema.json")
			if err != nil {
				compileErr = err
				return
			}
			raw[k] = b
		}
		for _, k := range []Kind{Element, Project, Snapshot} {
			sl := gojsonschema.NewSchemaLoader()
			// Register the siblings so "$ref": "element.schema.json" resolves offline.
			for other, b := range raw {
				if other == k {
					continue
				}
				if err := sl.AddSchemas(gojsonschema.NewBytesLoader(b)); err != nil {
					compileErr = fmt.Errorf("schema %s: %w", other, err)
					return
				}
			}
			s, err := sl.Compile(gojsonschema.NewBytesLoader(raw[k]))
			if err != nil {
				compileErr = fmt.Errorf("schema %s: %w", k, err)
				return
			}
			compiled[k] = s
		}
	})
	return compiled, compileErr
}

// Validate checks doc against the schema of kind k.
func Validate(k Kind, doc []byte) error {
	all, err := load()
	if err != nil {
		return err
	}
	s, ok := all[k]
	if !ok {
		return fmt.Errorf("schema: unknown kind %q", k)
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// Raw returns the embedded schema document for kind k.
func Raw(k Kind) ([]byte, error) {
	return files.ReadFile("schemas/" + string(k) + ".schema.json")
}
