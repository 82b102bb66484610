/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"taski/internal/backend"
	"taski/internal/config"
	"taski/internal/realtime"
	"taski/internal/viewport"
)

// ErrNoToken is returned by Connect when no backend token is configured.
var ErrNoToken = errors.New("session: no backend token; run `taski config login` first")

// Connect opens projectID against the configured backend: REST for
// persistence and a websocket transport for live updates. Fields already set
// in d are kept.
func Connect(ctx context.Context, cfg config.AppConfig, token, projectID string, d Deps) (*Board, *backend.Client, error) {
	if token == "" {
		return nil, nil, ErrNoToken
	}
	if d.User == "" {
		d.User = cfg.General.UserID
	}
	if d.User == "" {
		sub, err := TokenSubject(token)
		if err != nil {
			return nil, nil, err
		}
		d.User = sub
	}
	client := backend.NewClientFromConfig(cfg.Backend, token)
	if d.Projects == nil {
		d.Projects = client
	}
	if d.Elements == nil {
		d.Elements = client
	}
	if d.Files == nil {
		d.Files = client
	}
	if d.Transport == nil {
		d.Transport = realtime.NewWSTransport(cfg.Backend.RealtimeEndpoint(), realtime.CodecFor(cfg.Backend.Codec), func() string { return token })
	}
	if d.Viewport == (viewport.Config{}) {
		d.Viewport = viewport.ConfigFrom(cfg.Canvas)
	}
	if d.Frames == nil {
		d.Frames = viewport.NewTickerFrames(cfg.Canvas.FrameRate)
	}
	b, err := Open(ctx, d, projectID)
	if err != nil {
		return nil, nil, err
	}
	return b, client, nil
}

// TokenSubject reads the user id from a bearer token without verifying it.
// The server verifies every request; the client only needs to know who it is.
func TokenSubject(token string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}
