/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"

	"github.com/zalando/go-keyring"
)

// ErrNoToken is returned by a TokenStore when no token has been stored.
var ErrNoToken = errors.New("config: no token stored")

// TokenStore abstracts the OS keyring so tests can stub it.
type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

var tokenStore TokenStore = osKeyring{}

// SetTokenStore replaces the keyring backend and returns a restore func.
func SetTokenStore(ts TokenStore) (restore func()) {
	prev := tokenStore
	tokenStore = ts
	return func() { tokenStore = prev }
}

// osKeyring implements TokenStore using github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) {
	v, err := keyring.Get(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoToken
	}
	return v, err
}

func (osKeyring) Set(service, key, value string) error { return keyring.Set(service, key, value) }

func (osKeyring) Delete(service, key string) error {
	err := keyring.Delete(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// MemoryTokenStore keeps tokens in memory. Used by tests and headless runs.
type MemoryTokenStore struct{ m map[string]string }

func (s *MemoryTokenStore) Get(service, key string) (string, error) {
	v, ok := s.m[service+"/"+key]
	if !ok {
		return "", ErrNoToken
	}
	return v, nil
}

func (s *MemoryTokenStore) Set(service, key, value string) error {
	if s.m == nil {
		s.m = map[string]string{}
	}
	s.m[service+"/"+key] = value
	return nil
}

func (s *MemoryTokenStore) Delete(service, key string) error {
	delete(s.m, service+"/"+key)
	return nil
}
