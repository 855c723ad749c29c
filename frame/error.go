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

package frame

import "errors"

// ErrNeedMoreData is returned by the decoder when the buffered bytes do not yet hold a
// complete frame
var ErrNeedMoreData = errors.New("need more data")

// Protocol errors are fatal to a session
var (
	ErrUnexpectedFrame = errors.New("unexpected frame")
	ErrUnexpectedEOF   = errors.New("unexpected end of stream")
	ErrInvalidFrame    = errors.New("invalid frame")
)

var (
	ErrInvalidMagic       = errors.Join(ErrInvalidFrame, errors.New("invalid network magic"))
	ErrInvalidLane        = errors.Join(ErrInvalidFrame, errors.New("invalid lane"))
	ErrInvalidMarker      = errors.Join(ErrInvalidFrame, errors.New("invalid last lane marker"))
	ErrProofTooLarge      = errors.Join(ErrInvalidFrame, errors.New("proof length exceeds maximum"))
	ErrBlockTooLarge      = errors.Join(ErrInvalidFrame, errors.New("block length exceeds maximum"))
	ErrZeroLengthBlock    = errors.Join(ErrInvalidFrame, errors.New("zero length block"))
	ErrTakeModeActive     = errors.New("decoder is already taking a buffer")
	ErrInvalidTakeRequest = errors.New("invalid buffer length")
)
