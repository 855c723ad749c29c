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
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/blinklabs-io/ursa-pod/contentid"
	"github.com/blinklabs-io/ursa-pod/store"
)

type importFlags struct {
	flagset     *flag.FlagSet
	storePath   string
	hashWorkers int
	blockSize   int
}

func newImportFlags() *importFlags {
	f := &importFlags{
		flagset: flag.NewFlagSet("import", flag.ExitOnError),
	}
	f.flagset.StringVar(&f.storePath, "store", "ursa-pod.db", "path to the content store")
	f.flagset.IntVar(&f.hashWorkers, "hash-workers", 0, "number of block hashing workers (defaults to the number of CPUs)")
	f.flagset.IntVar(&f.blockSize, "block-size", 0, "content block size in bytes (defaults to 256KiB)")
	return f
}

// openStore opens the Pebble backed store at path
func openStore(f *globalFlags, path string, opts ...store.Option) (*store.Store, error) {
	kv, err := store.OpenPebble(path)
	if err != nil {
		return nil, err
	}
	opts = append(
		[]store.Option{
			store.WithKV(kv),
			store.WithLogger(f.logger()),
		},
		opts...,
	)
	s, err := store.New(opts...)
	if err != nil {
		kv.Close()
		return nil, err
	}
	return s, nil
}

func runImport(f *globalFlags) {
	importFlags := newImportFlags()
	parseSubcommand(f, importFlags.flagset)
	if importFlags.flagset.NArg() == 0 {
		fatal("you must specify one or more files to import (- for stdin)")
	}
	var opts []store.Option
	if importFlags.hashWorkers > 0 {
		opts = append(opts, store.WithHashWorkers(importFlags.hashWorkers))
	}
	if importFlags.blockSize > 0 {
		opts = append(opts, store.WithBlockSize(importFlags.blockSize))
	}
	s, err := openStore(f, importFlags.storePath, opts...)
	if err != nil {
		fatal("failed to open store: %s", err)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	for _, path := range importFlags.flagset.Args() {
		hash, err := importFile(ctx, s, path)
		if err != nil {
			s.Close()
			fatal("failed to import %s: %s", path, err)
		}
		size, err := s.ContentSize(hash)
		if err != nil {
			s.Close()
			fatal("failed to read imported content: %s", err)
		}
		fmt.Printf("%s\t%d\t%s\n", contentid.Format(hash), size, path)
	}
}

func importFile(ctx context.Context, s *store.Store, path string) ([32]byte, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		// #nosec G304 -- path is provided by the operator
		fh, err := os.Open(path)
		if err != nil {
			return [32]byte{}, err
		}
		defer fh.Close()
		r = fh
	}
	return s.Import(ctx, r)
}
