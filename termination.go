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
	"fmt"

	"github.com/blinklabs-io/ursa-pod/frame"
)

// TerminationError is returned when the peer ends the session with a TerminationSignal
type TerminationError struct {
	Reason frame.Reason
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("%s: session terminated by peer: %s", ProtocolName, e.Reason)
}

// NewTerminationError returns a TerminationError for a received signal
func NewTerminationError(sig *frame.TerminationSignal) *TerminationError {
	return &TerminationError{Reason: sig.Reason}
}
