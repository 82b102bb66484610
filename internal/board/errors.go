/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package board

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch marks an initial load that failed; callers show the board as unavailable.
	ErrFetch = errors.New("board: fetch failed")
	// ErrCreationFailed marks an optimistic create whose persist call failed.
	ErrCreationFailed = errors.New("board: creation failed")
	// ErrMutationRejected is returned when the permission gate denies a mutation.
	// No request is issued and local state is unchanged.
	ErrMutationRejected = errors.New("board: mutation rejected")
	// ErrSubscription marks a realtime channel that could not be opened.
	ErrSubscription = errors.New("board: subscription failed")
	// ErrNotFound is returned for operations on an unknown element id.
	ErrNotFound = errors.New("board: element not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("board: store closed")
)

// CreationFailedError carries the rolled-back element id and the persistence cause.
type CreationFailedError struct {
	ID  string
	Err error
}

func (e *CreationFailedError) Error() string {
	return fmt.Sprintf("board: creation of %s failed: %v", e.ID, e.Err)
}

// Is matches ErrCreationFailed.
func (e *CreationFailedError) Is(target error) bool { return target == ErrCreationFailed }

func (e *CreationFailedError) Unwrap() error { return e.Err }
