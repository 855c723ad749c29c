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
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blinklabs-io/ursa-pod/crypto"
	"github.com/blinklabs-io/ursa-pod/frame"
)

var (
	ErrInvalidLane = errors.New("invalid lane")
	ErrLaneBusy    = errors.New("lane is in use")
	ErrNoFreeLane  = errors.New("no free lane")
	ErrLaneNotHeld = errors.New("lane is not held")
)

// LaneState tracks the delivery counter of one lane of a client. A lane outlives the
// connection that used it, so a client reconnecting on the same lane in the same epoch
// resumes its byte count.
type LaneState struct {
	Client            crypto.ClientPublicKey
	Lane              uint8
	InUse             bool
	Epoch             uint64
	Bytes             uint64
	Acknowledgment    crypto.Acknowledgment
	HasAcknowledgment bool
	LastUsed          time.Time
}

func (s *LaneState) reset(epoch uint64) {
	s.Epoch = epoch
	s.Bytes = 0
	s.Acknowledgment = crypto.Acknowledgment{}
	s.HasAcknowledgment = false
}

// LaneManager hands out the lanes of every client. It is shared by all connections
type LaneManager struct {
	mutex sync.Mutex
	lanes map[crypto.ClientPublicKey]*[frame.MaxLanes]*LaneState
}

func NewLaneManager() *LaneManager {
	return &LaneManager{
		lanes: make(map[crypto.ClientPublicKey]*[frame.MaxLanes]*LaneState),
	}
}

func (m *LaneManager) get(client crypto.ClientPublicKey, lane uint8) *LaneState {
	lanes, ok := m.lanes[client]
	if !ok || int(lane) >= frame.MaxLanes {
		return nil
	}
	return lanes[lane]
}

// Acquire claims a lane for a connection. frame.LaneNone picks the lowest free lane.
// Lane state from an older epoch is reset. The returned state is a copy.
func (m *LaneManager) Acquire(client crypto.ClientPublicKey, lane uint8, epoch uint64) (LaneState, error) {
	if lane != frame.LaneNone && int(lane) >= frame.MaxLanes {
		return LaneState{}, fmt.Errorf("%w: %d", ErrInvalidLane, lane)
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	lanes, ok := m.lanes[client]
	if !ok {
		lanes = &[frame.MaxLanes]*LaneState{}
		m.lanes[client] = lanes
	}
	if lane == frame.LaneNone {
		found := false
		for i, st := range lanes {
			if st == nil || !st.InUse {
				lane = uint8(i) // #nosec G115
				found = true
				break
			}
		}
		if !found {
			return LaneState{}, ErrNoFreeLane
		}
	}
	st := lanes[lane]
	if st == nil {
		st = &LaneState{Client: client, Lane: lane, Epoch: epoch}
		lanes[lane] = st
	}
	if st.InUse {
		return LaneState{}, fmt.Errorf("%w: %d", ErrLaneBusy, lane)
	}
	if st.Epoch != epoch {
		st.reset(epoch)
	}
	st.InUse = true
	st.LastUsed = time.Now()
	return *st, nil
}

// Release gives a lane back. Its counter is kept for a later reconnect
func (m *LaneManager) Release(client crypto.ClientPublicKey, lane uint8) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if st := m.get(client, lane); st != nil {
		st.InUse = false
		st.LastUsed = time.Now()
	}
}

// Record stores the latest acknowledgment of a held lane along with the byte count it
// covers
func (m *LaneManager) Record(client crypto.ClientPublicKey, lane uint8, bytes uint64, ack crypto.Acknowledgment) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	st := m.get(client, lane)
	if st == nil || !st.InUse {
		return fmt.Errorf("%w: %d", ErrLaneNotHeld, lane)
	}
	st.Bytes = bytes
	st.Acknowledgment = ack
	st.HasAcknowledgment = true
	st.LastUsed = time.Now()
	return nil
}

// Last returns the last acknowledgment of a lane, or nil if it has none
func (m *LaneManager) Last(client crypto.ClientPublicKey, lane uint8) *frame.LastLaneData {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	st := m.get(client, lane)
	if st == nil || !st.HasAcknowledgment {
		return nil
	}
	return &frame.LastLaneData{
		Bytes:     st.Bytes,
		Signature: st.Acknowledgment,
	}
}

// Reset moves a lane to a new epoch and clears its counter
func (m *LaneManager) Reset(client crypto.ClientPublicKey, lane uint8, epoch uint64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if st := m.get(client, lane); st != nil {
		st.reset(epoch)
	}
}

// Snapshot returns copies of every lane, ordered by client and lane
func (m *LaneManager) Snapshot() []LaneState {
	m.mutex.Lock()
	var ret []LaneState
	for _, lanes := range m.lanes {
		for _, st := range lanes {
			if st != nil {
				ret = append(ret, *st)
			}
		}
	}
	m.mutex.Unlock()
	sort.Slice(ret, func(i, j int) bool {
		if c := bytes.Compare(ret[i].Client[:], ret[j].Client[:]); c != 0 {
			return c < 0
		}
		return ret[i].Lane < ret[j].Lane
	})
	return ret
}
