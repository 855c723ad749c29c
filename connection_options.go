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

package pod

import (
	"io"
	"log/slog"
)

// ConnectionOptionFunc is a type that represents functions that modify the Connection config
type ConnectionOptionFunc func(*Connection)

// WithConnection specifies an existing connection to use. If none is provided, the Dial() function can be
// used to create one later
func WithConnection(conn io.ReadWriteCloser) ConnectionOptionFunc {
	return func(c *Connection) {
		c.conn = conn
	}
}

// WithLogger specifies the logger. Connection attributes are added to it
func WithLogger(logger *slog.Logger) ConnectionOptionFunc {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithReadSize specifies the size of each read from the underlying stream
func WithReadSize(readSize int) ConnectionOptionFunc {
	return func(c *Connection) {
		c.readSize = readSize
	}
}

// WithName specifies a name for the connection, which is logged as the connection ID
func WithName(name string) ConnectionOptionFunc {
	return func(c *Connection) {
		c.name = name
	}
}
