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

package runner

// IconKind discriminates the variants of Icon. Modeled as an enum rather
// than an interface so QueryMatch stays a plain value type.
type IconKind int8

const (
	IconNone IconKind = iota
	IconNamed
	IconInline
)

// RemoteImage is the raw pixel payload an out-of-process runner can send
// back instead of a theme icon name. Layout mirrors the wire shape
// ipc.RemoteImage, carried in ipc.RemoteMatch's InlineIcon field.
type RemoteImage struct {
	Width         int
	Height        int
	RowStride     int
	HasAlpha      bool
	BitsPerSample int
	Channels      int
	Data          []byte
}

// Icon is the tagged union for QueryMatch.IconSource: either a themed icon
// name, inline pixel data, or nothing.
type Icon struct {
	Kind   IconKind
	Named  string
	Inline *RemoteImage
}

func NamedIcon(name string) Icon {
	if name == "" {
		return Icon{Kind: IconNone}
	}
	return Icon{Kind: IconNamed, Named: name}
}

func InlineIcon(img *RemoteImage) Icon {
	if img == nil {
		return Icon{Kind: IconNone}
	}
	return Icon{Kind: IconInline, Inline: img}
}
