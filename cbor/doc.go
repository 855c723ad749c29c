// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cbor wraps fxamacker/cbor with the deterministic encoding options used for
// records persisted by the store.
//
// Records are encoded with core deterministic map ordering so that the same record
// always produces the same bytes. Structs that embed StructAsArray are encoded as CBOR
// arrays, which keeps persisted records compact.
//
// Records that need their original bytes after decoding embed DecodeStoreCbor and call
// UnmarshalCborGeneric from their UnmarshalCBOR method.
package cbor
