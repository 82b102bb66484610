/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"errors"

	"taski/internal/board"
	"taski/internal/config"
)

// ErrNotBuilt is returned by Run in binaries that cannot open a window.
var ErrNotBuilt = errors.New("desktop UI not built in this binary")

// Options selects the board the desktop window opens.
type Options struct {
	ProjectID string
	Config    config.AppConfig
	Token     string
	// Recorder receives usage events; may be nil.
	Recorder board.Recorder
	// AutosaveDir receives a board file if the UI crashes.
	AutosaveDir string
}
