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
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/blinklabs-io/ursa-pod/crypto"
	"github.com/btcsuite/btcd/btcutil/base58"
)

var errEmptyKeyFile = errors.New("key file is empty")

type keygenFlags struct {
	flagset *flag.FlagSet
	keyType string
	out     string
	force   bool
}

func newKeygenFlags() *keygenFlags {
	f := &keygenFlags{
		flagset: flag.NewFlagSet("keygen", flag.ExitOnError),
	}
	f.flagset.StringVar(&f.keyType, "type", "node", "key type to generate (node or client)")
	f.flagset.StringVar(&f.out, "out", "", "path to write the secret key to")
	f.flagset.BoolVar(&f.force, "force", false, "overwrite an existing key file")
	return f
}

func runKeygen(f *globalFlags) {
	keygenFlags := newKeygenFlags()
	parseSubcommand(f, keygenFlags.flagset)
	if keygenFlags.out == "" {
		fatal("you must specify -out")
	}
	var secret []byte
	var public string
	switch keygenFlags.keyType {
	case "node":
		sk, err := crypto.GenerateNodeSecretKey()
		if err != nil {
			fatal("failed to generate node key: %s", err)
		}
		secret = sk.Seed()
		public = sk.PublicKey().String()
	case "client":
		sk, err := crypto.GenerateClientSecretKey()
		if err != nil {
			fatal("failed to generate client key: %s", err)
		}
		secret = sk.Bytes()
		public = sk.PublicKey().String()
	default:
		fatal("unknown key type: %s", keygenFlags.keyType)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if keygenFlags.force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	if err := writeKeyFile(keygenFlags.out, secret, flags); err != nil {
		fatal("failed to write key file: %s", err)
	}
	fmt.Println(public)
}

func writeKeyFile(path string, secret []byte, flags int) error {
	// #nosec G304 -- path is provided by the operator
	fh, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(fh, base58.Encode(secret)); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

func readKeyFile(path string) ([]byte, error) {
	// #nosec G304 -- path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	encoded := strings.TrimSpace(string(data))
	if encoded == "" {
		return nil, errEmptyKeyFile
	}
	return base58.Decode(encoded), nil
}

func loadNodeKey(path string) (*crypto.NodeSecretKey, error) {
	seed, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}
	sk, err := crypto.NewNodeSecretKey(seed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sk, nil
}

func loadClientKey(path string) (*crypto.ClientSecretKey, error) {
	data, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}
	sk, err := crypto.ClientSecretKeyFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sk, nil
}
