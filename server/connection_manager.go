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

package server

import (
	"errors"
	"sync"
	"time"

	pod "github.com/blinklabs-io/ursa-pod"
	"github.com/blinklabs-io/ursa-pod/crypto"
	"github.com/google/uuid"
)

var (
	ErrTooManyConnections = errors.New("too many connections")
	ErrServerStopped      = errors.New("server stopped")
)

// ConnectionClosedFunc is a function that takes a connection ID and an optional error
type ConnectionClosedFunc func(uuid.UUID, error)

// ConnectionTag represents the states a tracked connection can be in
type ConnectionTag uint16

const (
	ConnectionTagNone ConnectionTag = iota

	ConnectionTagHandshaked
	ConnectionTagDelivering
)

func (c ConnectionTag) String() string {
	tmp := map[ConnectionTag]string{
		ConnectionTagHandshaked: "Handshaked",
		ConnectionTagDelivering: "Delivering",
	}
	ret, ok := tmp[c]
	if !ok {
		return "Unknown"
	}
	return ret
}

// ConnectionManager tracks the live connections of a server
type ConnectionManager struct {
	config           ConnectionManagerConfig
	connections      map[uuid.UUID]*ConnectionManagerConnection
	connectionsMutex sync.Mutex
	closed           bool
}

type ConnectionManagerConfig struct {
	ConnClosedFunc ConnectionClosedFunc
	// MaxConnections is the connection limit. Zero means no limit
	MaxConnections int
}

// ConnectionManagerConnection is a tracked connection
type ConnectionManagerConnection struct {
	Id          uuid.UUID
	Conn        *pod.Connection
	ConnectedAt time.Time
	Client      crypto.ClientPublicKey
	Lane        uint8
	Tags        map[ConnectionTag]bool
}

// ConnectionInfo is a point in time copy of a tracked connection
type ConnectionInfo struct {
	Id          uuid.UUID
	ConnectedAt time.Time
	Client      crypto.ClientPublicKey
	Lane        uint8
	Tags        []ConnectionTag
}

func NewConnectionManager(cfg ConnectionManagerConfig) *ConnectionManager {
	return &ConnectionManager{
		config:      cfg,
		connections: make(map[uuid.UUID]*ConnectionManagerConnection),
	}
}

// AddConnection starts tracking a connection
func (c *ConnectionManager) AddConnection(connId uuid.UUID, conn *pod.Connection) error {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	if c.closed {
		return ErrServerStopped
	}
	if c.config.MaxConnections > 0 && len(c.connections) >= c.config.MaxConnections {
		return ErrTooManyConnections
	}
	c.connections[connId] = &ConnectionManagerConnection{
		Id:          connId,
		Conn:        conn,
		ConnectedAt: time.Now(),
		Tags:        make(map[ConnectionTag]bool),
	}
	return nil
}

// RemoveConnection stops tracking a connection and calls the configured closed callback
func (c *ConnectionManager) RemoveConnection(connId uuid.UUID, err error) {
	c.connectionsMutex.Lock()
	_, ok := c.connections[connId]
	delete(c.connections, connId)
	c.connectionsMutex.Unlock()
	if ok && c.config.ConnClosedFunc != nil {
		c.config.ConnClosedFunc(connId, err)
	}
}

// SetPeer records the client and lane of a connection once the handshake completes
func (c *ConnectionManager) SetPeer(connId uuid.UUID, client crypto.ClientPublicKey, lane uint8) {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	if conn, ok := c.connections[connId]; ok {
		conn.Client = client
		conn.Lane = lane
		conn.Tags[ConnectionTagHandshaked] = true
	}
}

func (c *ConnectionManager) AddTags(connId uuid.UUID, tags ...ConnectionTag) {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	if conn, ok := c.connections[connId]; ok {
		for _, tag := range tags {
			conn.Tags[tag] = true
		}
	}
}

func (c *ConnectionManager) RemoveTags(connId uuid.UUID, tags ...ConnectionTag) {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	if conn, ok := c.connections[connId]; ok {
		for _, tag := range tags {
			delete(conn.Tags, tag)
		}
	}
}

func (c *ConnectionManager) info(conn *ConnectionManagerConnection) ConnectionInfo {
	ret := ConnectionInfo{
		Id:          conn.Id,
		ConnectedAt: conn.ConnectedAt,
		Client:      conn.Client,
		Lane:        conn.Lane,
	}
	for _, tag := range []ConnectionTag{ConnectionTagHandshaked, ConnectionTagDelivering} {
		if conn.Tags[tag] {
			ret.Tags = append(ret.Tags, tag)
		}
	}
	return ret
}

// GetConnectionById returns a copy of a tracked connection
func (c *ConnectionManager) GetConnectionById(connId uuid.UUID) (ConnectionInfo, bool) {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	conn, ok := c.connections[connId]
	if !ok {
		return ConnectionInfo{}, false
	}
	return c.info(conn), true
}

// GetConnectionsByTags returns copies of the connections that carry every given tag
func (c *ConnectionManager) GetConnectionsByTags(tags ...ConnectionTag) []ConnectionInfo {
	var ret []ConnectionInfo
	c.connectionsMutex.Lock()
	for _, conn := range c.connections {
		skipConn := false
		for _, tag := range tags {
			if _, ok := conn.Tags[tag]; !ok {
				skipConn = true
				break
			}
		}
		if !skipConn {
			ret = append(ret, c.info(conn))
		}
	}
	c.connectionsMutex.Unlock()
	return ret
}

// Count returns the number of tracked connections
func (c *ConnectionManager) Count() int {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	return len(c.connections)
}

// CloseAll closes every tracked connection and refuses new ones
func (c *ConnectionManager) CloseAll() {
	c.connectionsMutex.Lock()
	c.closed = true
	conns := make([]*pod.Connection, 0, len(c.connections))
	for _, conn := range c.connections {
		conns = append(conns, conn.Conn)
	}
	c.connectionsMutex.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}
