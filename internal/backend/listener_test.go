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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taski/internal/domain"
)

type recordedEvent struct {
	kind    domain.EventKind
	project *domain.Project
	element *domain.Element
}

type recordingEvents struct{ got []recordedEvent }

func (r *recordingEvents) ProjectChanged(kind domain.EventKind, p domain.Project) {
	r.got = append(r.got, recordedEvent{kind: kind, project: &p})
}

func (r *recordingEvents) ElementChanged(kind domain.EventKind, e domain.Element) {
	r.got = append(r.got, recordedEvent{kind: kind, element: &e})
}

func TestListenerDispatchDeletes(t *testing.T) {
	ev := &recordingEvents{}
	l := NewPGListener(nil, ev)
	ctx := context.Background()

	require.NoError(t, l.Dispatch(ctx, []byte(`{"table":"elements","op":"delete","id":"e1","projectId":"p","type":"image"}`)))
	require.NoError(t, l.Dispatch(ctx, []byte(`{"table":"projects","op":"delete","id":"p","ownerId":"alice"}`)))
	require.Len(t, ev.got, 2)
	assert.Equal(t, domain.Deleted, ev.got[0].kind)
	assert.Equal(t, domain.Element{ID: "e1", ProjectID: "p", Type: domain.TypeImage}, *ev.got[0].element)
	assert.Equal(t, "alice", ev.got[1].project.OwnerID)

	assert.Error(t, l.Dispatch(ctx, []byte(`{"table":"elements","op":"truncate","id":"x"}`)))
	assert.Error(t, l.Dispatch(ctx, []byte(`{"table":"users","op":"delete","id":"x"}`)))
	assert.Error(t, l.Dispatch(ctx, []byte(`nope`)))
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion("migrations/0002_notify.sql")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	_, err = parseVersion("notify.sql")
	assert.Error(t, err)

	files, err := migrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init.sql", "0002_notify.sql"}, files)
}

func TestExtFor(t *testing.T) {
	assert.Equal(t, ".png", ExtFor("image/png"))
	assert.Equal(t, ".jpg", ExtFor("image/JPEG; charset=binary"))
	assert.Equal(t, "", ExtFor("text/plain"))
}

func TestDiskFilesRejectsTraversal(t *testing.T) {
	d := DiskFiles{Dir: t.TempDir()}
	assert.ErrorIs(t, d.DeleteFile(context.Background(), "../etc/passwd"), ErrBadRef)
	_, err := d.Open(".hidden")
	assert.ErrorIs(t, err, ErrBadRef)
}
