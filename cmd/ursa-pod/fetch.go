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

	"github.com/blinklabs-io/ursa-pod/client"
	"github.com/blinklabs-io/ursa-pod/compression"
	"github.com/blinklabs-io/ursa-pod/contentid"
	"github.com/blinklabs-io/ursa-pod/crypto"
	"github.com/blinklabs-io/ursa-pod/frame"
)

type fetchFlags struct {
	flagset     *flag.FlagSet
	address     string
	keyFile     string
	serverKey   string
	compression string
	lane        int
	start       uint64
	chunks      uint
	blocks      int
	out         string
}

func newFetchFlags() *fetchFlags {
	f := &fetchFlags{
		flagset: flag.NewFlagSet("fetch", flag.ExitOnError),
	}
	f.flagset.StringVar(&f.address, "address", "127.0.0.1:6969", "TCP address to connect to in address:port format")
	f.flagset.StringVar(&f.keyFile, "key", "", "path to the client key file (an ephemeral key is used if not specified)")
	f.flagset.StringVar(&f.serverKey, "server-key", "", "expected base58 node public key of the server")
	f.flagset.StringVar(&f.compression, "compression", "snappy,gzip,lz4", "comma separated list of accepted compression algorithms")
	f.flagset.IntVar(&f.lane, "lane", -1, "lane to request (-1 lets the server choose)")
	f.flagset.Uint64Var(&f.start, "start", 0, "first block of a range request")
	f.flagset.UintVar(&f.chunks, "chunks", 0, "number of blocks in a range request (0 fetches the whole content)")
	f.flagset.IntVar(&f.blocks, "blocks", 0, "total number of blocks of the content, if known, to check a range against the exact tree shape")
	f.flagset.StringVar(&f.out, "out", "-", "path to write the content to (- for stdout)")
	return f
}

func (f *fetchFlags) options() ([]client.Option, error) {
	var sk *crypto.ClientSecretKey
	var err error
	if f.keyFile != "" {
		sk, err = loadClientKey(f.keyFile)
	} else {
		sk, err = crypto.GenerateClientSecretKey()
	}
	if err != nil {
		return nil, fmt.Errorf("client key: %w", err)
	}
	algs, err := compression.ParseSet(f.compression)
	if err != nil {
		return nil, err
	}
	opts := []client.Option{
		client.WithSecretKey(sk),
		client.WithCompression(algs),
	}
	if f.serverKey != "" {
		pk, err := crypto.ParseNodePublicKey(f.serverKey)
		if err != nil {
			return nil, fmt.Errorf("server key: %w", err)
		}
		opts = append(opts, client.WithServerKey(pk))
	}
	switch {
	case f.lane < 0:
		opts = append(opts, client.WithLane(frame.LaneNone))
	case f.lane < frame.MaxLanes:
		opts = append(opts, client.WithLane(uint8(f.lane)))
	default:
		return nil, fmt.Errorf("lane must be below %d", frame.MaxLanes)
	}
	if f.chunks > 0xffff {
		return nil, fmt.Errorf("chunks must be at most %d", 0xffff)
	}
	if f.blocks < 0 {
		return nil, fmt.Errorf("blocks must not be negative")
	}
	return opts, nil
}

func runFetch(f *globalFlags) {
	fetchFlags := newFetchFlags()
	parseSubcommand(f, fetchFlags.flagset)
	if fetchFlags.flagset.NArg() != 1 {
		fatal("you must specify a single content id")
	}
	hash, err := contentid.Parse(fetchFlags.flagset.Arg(0))
	if err != nil {
		fatal("invalid content id: %s", err)
	}
	opts, err := fetchFlags.options()
	if err != nil {
		fatal("%s", err)
	}
	logger := f.logger()
	opts = append(opts, client.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	c, err := client.Dial(ctx, "tcp", fetchFlags.address, opts...)
	if err != nil {
		stop()
		fatal("connection failed: %s", err)
	}
	defer c.Close()
	logger.Debug(
		"connected",
		"server_key", c.ServerKey().String(),
		"lane", c.Lane(),
		"epoch", c.Epoch(),
	)

	var w io.Writer = os.Stdout
	if fetchFlags.out != "-" {
		// #nosec G304 -- path is provided by the operator
		fh, err := os.Create(fetchFlags.out)
		if err != nil {
			c.Close()
			stop()
			fatal("failed to create output file: %s", err)
		}
		defer fh.Close()
		w = fh
	}

	var n int64
	if fetchFlags.chunks > 0 {
		n, err = fetchRange(ctx, c, hash, fetchFlags.blocks, fetchFlags.start, uint16(fetchFlags.chunks), w)
	} else {
		n, err = c.Fetch(ctx, hash, w)
	}
	if err != nil {
		c.Close()
		stop()
		fatal("fetch failed: %s", err)
	}
	logger.Info(
		"fetch complete",
		"cid", contentid.Format(hash),
		"bytes", n,
		"lane_bytes", c.LaneBytes(),
	)
}

func fetchRange(ctx context.Context, c *client.Client, hash [32]byte, blocks int, start uint64, chunks uint16, w io.Writer) (int64, error) {
	var stream *client.ContentStream
	var err error
	if blocks > 0 {
		stream, err = c.RequestRangeWithLeaves(ctx, hash, blocks, start, chunks)
	} else {
		stream, err = c.RequestRange(ctx, hash, start, chunks)
	}
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, stream)
	if err != nil {
		stream.Close()
		return n, err
	}
	return n, stream.Close()
}
