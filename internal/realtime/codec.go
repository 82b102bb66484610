/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package realtime

import (
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// Codec encodes messages on a websocket. Its name doubles as the subprotocol.
type Codec interface {
	Name() string
	Marshal(m Message) ([]byte, error)
	Unmarshal(b []byte, m *Message) error
	// FrameType is websocket.TextMessage or websocket.BinaryMessage.
	FrameType() int
}

type JSONCodec struct{}

func (JSONCodec) Name() string                         { return "json" }
func (JSONCodec) Marshal(m Message) ([]byte, error)    { return json.Marshal(m) }
func (JSONCodec) Unmarshal(b []byte, m *Message) error { return json.Unmarshal(b, m) }
func (JSONCodec) FrameType() int                       { return websocket.TextMessage }

// CBORCodec encodes the envelope as CBOR; the payload stays a JSON document
// carried as a byte string.
type CBORCodec struct{}

func (CBORCodec) Name() string                         { return "cbor" }
func (CBORCodec) Marshal(m Message) ([]byte, error)    { return cbor.Marshal(m) }
func (CBORCodec) Unmarshal(b []byte, m *Message) error { return cbor.Unmarshal(b, m) }
func (CBORCodec) FrameType() int                       { return websocket.BinaryMessage }

// CodecFor returns the codec for a subprotocol name, JSON when unknown.
func CodecFor(name string) Codec {
	if name == "cbor" {
		return CBORCodec{}
	}
	return JSONCodec{}
}

// Subprotocols lists the supported codecs in server preference order.
var Subprotocols = []string{"cbor", "json"}
