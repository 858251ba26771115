// Copyright 2025 Edgeo SCADA
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

package mbslave

import (
	"errors"
	"fmt"
)

// ExceptionCode represents a Modbus exception code.
type ExceptionCode uint8

// Modbus exception codes.
const (
	ExceptionIllegalFunction     ExceptionCode = 0x01
	ExceptionIllegalDataAddress  ExceptionCode = 0x02
	ExceptionIllegalDataValue    ExceptionCode = 0x03
	ExceptionServerDeviceFailure ExceptionCode = 0x04
)

// String returns the string representation of the exception code.
func (e ExceptionCode) String() string {
	switch e {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	default:
		return fmt.Sprintf("unknown exception (0x%02X)", uint8(e))
	}
}

// Common errors.
var (
	// ErrMalformedFrame indicates a frame shorter than the minimum its
	// claimed function code requires. The offending connection is dropped
	// rather than answered.
	ErrMalformedFrame = errors.New("mbslave: malformed frame")

	// ErrConnectionClosed indicates the peer closed the connection or the
	// byte stream failed mid-frame.
	ErrConnectionClosed = errors.New("mbslave: connection closed")

	// ErrServerClosed indicates an operation on a server that has been
	// closed.
	ErrServerClosed = errors.New("mbslave: server closed")
)
