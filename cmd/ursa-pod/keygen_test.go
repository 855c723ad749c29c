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

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blinklabs-io/ursa-pod/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFiles(t *testing.T) {
	dir := t.TempDir()
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL

	nodeKey, err := crypto.GenerateNodeSecretKey()
	require.NoError(t, err)
	nodePath := filepath.Join(dir, "node.key")
	require.NoError(t, writeKeyFile(nodePath, nodeKey.Seed(), flags))
	loadedNode, err := loadNodeKey(nodePath)
	require.NoError(t, err)
	assert.Equal(t, nodeKey.PublicKey(), loadedNode.PublicKey())

	// Existing key files are not overwritten without -force
	require.Error(t, writeKeyFile(nodePath, nodeKey.Seed(), flags))

	clientKey, err := crypto.GenerateClientSecretKey()
	require.NoError(t, err)
	clientPath := filepath.Join(dir, "client.key")
	require.NoError(t, writeKeyFile(clientPath, clientKey.Bytes(), flags))
	loadedClient, err := loadClientKey(clientPath)
	require.NoError(t, err)
	assert.Equal(t, clientKey.PublicKey(), loadedClient.PublicKey())
}

func TestKeyFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.key")
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o600))
	_, err := loadNodeKey(path)
	require.ErrorIs(t, err, errEmptyKeyFile)
}
