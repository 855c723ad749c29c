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
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/blinklabs-io/ursa-pod/compression"
	"github.com/blinklabs-io/ursa-pod/server"
	"github.com/blinklabs-io/ursa-pod/store"
)

type serveFlags struct {
	flagset        *flag.FlagSet
	storePath      string
	keyFile        string
	address        string
	compression    string
	epoch          uint64
	maxConnections int
	defaultBalance uint64
	batchesOut     string
}

func newServeFlags() *serveFlags {
	f := &serveFlags{
		flagset: flag.NewFlagSet("serve", flag.ExitOnError),
	}
	f.flagset.StringVar(&f.storePath, "store", "ursa-pod.db", "path to the content store")
	f.flagset.StringVar(&f.keyFile, "key", "", "path to the node key file")
	f.flagset.StringVar(&f.address, "address", ":6969", "TCP address to listen on in address:port format")
	f.flagset.StringVar(&f.compression, "compression", "snappy,gzip,lz4", "comma separated list of supported compression algorithms")
	f.flagset.Uint64Var(&f.epoch, "epoch", 0, "epoch number announced to clients")
	f.flagset.IntVar(&f.maxConnections, "max-connections", 0, "maximum number of concurrent connections (0 for no limit)")
	f.flagset.Uint64Var(&f.defaultBalance, "default-balance", 0, "balance in bytes granted to clients without a stored balance")
	f.flagset.StringVar(&f.batchesOut, "batches-out", "", "path to export delivery batches to on shutdown")
	return f
}

func runServe(f *globalFlags) {
	serveFlags := newServeFlags()
	parseSubcommand(f, serveFlags.flagset)
	if serveFlags.keyFile == "" {
		fatal("you must specify -key")
	}
	nodeKey, err := loadNodeKey(serveFlags.keyFile)
	if err != nil {
		fatal("failed to load node key: %s", err)
	}
	algs, err := compression.ParseSet(serveFlags.compression)
	if err != nil {
		fatal("invalid -compression: %s", err)
	}
	logger := f.logger()
	s, err := openStore(
		f,
		serveFlags.storePath,
		store.WithNodeKey(nodeKey),
		store.WithDefaultBalance(serveFlags.defaultBalance),
	)
	if err != nil {
		fatal("failed to open store: %s", err)
	}
	defer s.Close()

	srv, err := server.NewServer(
		s,
		server.WithNodeKey(nodeKey),
		server.WithLogger(logger),
		server.WithCompression(algs),
		server.WithEpochSource(server.StaticEpoch(serveFlags.epoch)),
		server.WithMaxConnections(serveFlags.maxConnections),
	)
	if err != nil {
		s.Close()
		fatal("failed to create server: %s", err)
	}
	listener, err := net.Listen("tcp", serveFlags.address)
	if err != nil {
		s.Close()
		fatal("failed to open listening socket: %s", err)
	}
	logger.Info(
		"serving content",
		"address", listener.Addr().String(),
		"node_key", srv.PublicKey().String(),
		"compression", algs.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Serve(ctx, listener); err != nil {
		logger.Error("server stopped", "error", err)
	}
	srv.Stop()

	if err := summarizeBatches(s, serveFlags.batchesOut); err != nil {
		logger.Error("failed to export batches", "error", err)
	}
}

// summarizeBatches logs the aggregated acknowledgment over the stored batches and
// optionally exports them
func summarizeBatches(s *store.Store, path string) error {
	batches, err := s.Batches()
	if err != nil {
		return err
	}
	if len(batches) > 0 {
		agg, kept, err := s.AggregateBatches()
		if err != nil {
			return err
		}
		var total uint64
		for _, b := range kept {
			total += b.Bytes
		}
		fmt.Printf("batches: %d, lanes: %d, bytes: %d, aggregate: %x\n", len(batches), len(kept), total, agg[:])
	}
	if path == "" {
		return nil
	}
	// #nosec G304 -- path is provided by the operator
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.ExportBatches(fh); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}
