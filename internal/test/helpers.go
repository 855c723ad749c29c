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

package test

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/blinklabs-io/ursa-pod/crypto"
)

// DecodeHexString is a helper function for tests that decodes hex strings. It doesn't return
// an error value, which makes it usable inline.
func DecodeHexString(hexData string) []byte {
	// Strip off any leading/trailing whitespace in hex string
	hexData = strings.TrimSpace(hexData)
	decoded, err := hex.DecodeString(hexData)
	if err != nil {
		panic(fmt.Sprintf("error decoding hex: %s", err))
	}
	return decoded
}

// NodeKey returns a node key derived from a repeated seed byte
func NodeKey(t testing.TB, seed byte) *crypto.NodeSecretKey {
	t.Helper()
	sk, err := crypto.NewNodeSecretKey(bytes.Repeat([]byte{seed}, crypto.SeedSize))
	if err != nil {
		t.Fatalf("failed to create node key: %s", err)
	}
	return sk
}

// ClientKey returns a client key derived from a repeated seed byte
func ClientKey(t testing.TB, seed byte) *crypto.ClientSecretKey {
	t.Helper()
	sk, err := crypto.NewClientSecretKey(bytes.Repeat([]byte{seed}, 32))
	if err != nil {
		t.Fatalf("failed to create client key: %s", err)
	}
	return sk
}

// RandomBytes returns size pseudo random bytes that depend only on seed
func RandomBytes(seed int64, size int) []byte {
	ret := make([]byte, size)
	// #nosec G404
	_, _ = rand.New(rand.NewSource(seed)).Read(ret)
	return ret
}

// CompressibleBytes returns size bytes of repetitive text
func CompressibleBytes(size int) []byte {
	line := []byte("the quick brown fox jumps over the lazy dog\n")
	ret := bytes.Repeat(line, size/len(line)+1)
	return ret[:size]
}

// SplitBlocks splits data into blocks of at most size bytes
func SplitBlocks(data []byte, size int) [][]byte {
	var ret [][]byte
	for len(data) > 0 {
		n := min(size, len(data))
		ret = append(ret, data[:n])
		data = data[n:]
	}
	return ret
}
