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

// Package mbslave implements a Modbus TCP slave (server) backed by an
// in-memory holding-register bank. It is intended for simulating a
// Modbus-addressable device when testing industrial-control clients.
package mbslave

// UnitID represents the Modbus unit identifier (slave address).
type UnitID uint8

// FunctionCode represents a Modbus function code.
type FunctionCode uint8

// Function codes served by the slave. Any other code is answered with an
// illegal-function exception.
const (
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncWriteMultipleRegisters FunctionCode = 0x10
)

// String returns a string representation of the function code.
func (fc FunctionCode) String() string {
	switch fc {
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	default:
		return "Unknown"
	}
}

// Protocol constants.
const (
	// MBAPPrefixSize is the size of the MBAP header up to and including the
	// length field. The unit identifier is counted by the length field and
	// is read together with the PDU.
	MBAPPrefixSize = 6

	// DefaultPort is the default Modbus TCP port.
	DefaultPort = 502
)

// RegisterBank is the storage primitive the protocol engine runs against:
// an addressable array of 16-bit cells. Implementations must make GetUint16
// and SetUint16 atomic with respect to each other; the engine applies
// multi-register writes cell by cell, so a concurrent reader may observe a
// partially applied write. Index bounds are validated by the dispatcher
// before either accessor is called.
type RegisterBank interface {
	Size() int
	GetUint16(index int) uint16
	SetUint16(index int, value uint16)
}
