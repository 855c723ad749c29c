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

package crypto

import "encoding/binary"

// RequestInfo identifies a single delivered block. It is rebuilt for every block and
// never stored.
type RequestInfo struct {
	Cid          [32]byte
	Server       NodePublicKey
	Client       ClientPublicKey
	SessionNonce [32]byte
	BlockNumber  uint64
	// BlockCounter increases across every block of the session
	BlockCounter uint64
}

// Hash returns the domain separated hash that binds keys and signatures to this request
func (r *RequestInfo) Hash() [32]byte {
	var counters [16]byte
	binary.BigEndian.PutUint64(counters[:8], r.BlockNumber)
	binary.BigEndian.PutUint64(counters[8:], r.BlockCounter)
	return KeyedHash(
		HashRequestInfo,
		r.Cid[:],
		r.Server[:],
		r.Client[:],
		r.SessionNonce[:],
		counters[:],
	)
}

// SessionNonce derives the nonce shared by a lane for the length of an epoch
func SessionNonce(epoch uint64, lane uint8, server NodePublicKey, client ClientPublicKey) [32]byte {
	var buf [9]byte
	binary.BigEndian.PutUint64(buf[:8], epoch)
	buf[8] = lane
	return KeyedHash(SessionNonceDomain, buf[:], server[:], client[:])
}
