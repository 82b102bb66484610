/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"os"

	"taski/internal/cli"
	"taski/internal/crash"
	applog "taski/internal/log"
)

func main() {
	// environment defaults until the config file is read
	applog.Init(applog.FromEnv())
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	defer crash.Recover(nil)
	return cli.NewRootCmd().Execute()
}
