// Copyright 2018 The Nakama Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ipc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets the runner adapter speak gRPC without a protoc-generated
// codec: runner plugin processes are expected to be small, independently
// built binaries (often not Go), so a JSON wire format is easier for
// third parties to implement than protobuf. grpc.ClientConn accepts any
// encoding.Codec registered under its own name via grpc.CallContentSubtype.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return "json" }

// Codec is registered with grpc's codec registry under "json" and selected
// with grpc.CallContentSubtype("json") by every client call this package
// makes.
var Codec = jsonCodec{}

func init() { encoding.RegisterCodec(Codec) }
