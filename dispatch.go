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
	"encoding/binary"
	"fmt"
	"log/slog"
)

// processRequest interprets one request frame against the register bank and
// returns the complete response frame bytes. Protocol violations are
// answered with Modbus exception frames; the only error return is
// ErrMalformedFrame, for frames too short to carry the fields their
// function code requires, and it terminates the connection.
func (s *Server) processRequest(f *Frame) ([]byte, error) {
	if f.bodyLen() < 2 {
		return nil, fmt.Errorf("%w: %d body bytes", ErrMalformedFrame, f.bodyLen())
	}

	fc := FunctionCode(f.PDU[0])

	s.opts.logger.Debug("processing request",
		slog.Uint64("tx_id", uint64(f.TransactionID)),
		slog.Uint64("unit_id", uint64(f.UnitID)),
		slog.String("func", fc.String()))

	switch fc {
	case FuncReadHoldingRegisters:
		return s.readHoldingRegisters(f)
	case FuncWriteSingleRegister:
		return s.writeSingleRegister(f)
	case FuncWriteMultipleRegisters:
		return s.writeMultipleRegisters(f)
	default:
		return s.buildException(f, fc, ExceptionIllegalFunction), nil
	}
}

// buildException builds a full exception frame: the echoed
// transaction/protocol identifiers with length 3, then unit identifier,
// function code with the high bit set, and the exception code.
func (s *Server) buildException(f *Frame, fc FunctionCode, ec ExceptionCode) []byte {
	s.metrics.Exceptions.Add(1)
	s.opts.logger.Debug("exception response",
		slog.Uint64("tx_id", uint64(f.TransactionID)),
		slog.String("func", fc.String()),
		slog.String("exception", ec.String()))
	return append(f.prefix(3), byte(f.UnitID), byte(fc)|0x80, byte(ec))
}

// readHoldingRegisters serves FC03. The response carries the byte count
// followed by the requested registers big-endian in ascending address
// order.
func (s *Server) readHoldingRegisters(f *Frame) ([]byte, error) {
	if len(f.PDU) < 5 {
		return nil, fmt.Errorf("%w: short FC03 request", ErrMalformedFrame)
	}
	addr := binary.BigEndian.Uint16(f.PDU[1:3])
	qty := binary.BigEndian.Uint16(f.PDU[3:5])

	if int(addr)+int(qty) > s.bank.Size() {
		return s.buildException(f, FuncReadHoldingRegisters, ExceptionIllegalDataAddress), nil
	}

	resp := f.prefix(uint16(3 + 2*int(qty)))
	resp = append(resp, byte(f.UnitID), byte(FuncReadHoldingRegisters), byte(2*qty))
	for i := 0; i < int(qty); i++ {
		resp = binary.BigEndian.AppendUint16(resp, s.bank.GetUint16(int(addr)+i))
	}
	return resp, nil
}

// writeSingleRegister serves FC06. The response echoes the entire request
// frame verbatim.
func (s *Server) writeSingleRegister(f *Frame) ([]byte, error) {
	if len(f.PDU) < 5 {
		return nil, fmt.Errorf("%w: short FC06 request", ErrMalformedFrame)
	}
	addr := binary.BigEndian.Uint16(f.PDU[1:3])
	value := binary.BigEndian.Uint16(f.PDU[3:5])

	if int(addr) >= s.bank.Size() {
		return s.buildException(f, FuncWriteSingleRegister, ExceptionIllegalDataAddress), nil
	}

	s.bank.SetUint16(int(addr), value)
	return f.Bytes(), nil
}

// writeMultipleRegisters serves FC10. Registers are applied one cell at a
// time; a concurrent FC03 may observe a partially applied write. The
// response recomputes the length field for the six body bytes it carries.
func (s *Server) writeMultipleRegisters(f *Frame) ([]byte, error) {
	if len(f.PDU) < 6 {
		return nil, fmt.Errorf("%w: short FC10 request", ErrMalformedFrame)
	}
	addr := binary.BigEndian.Uint16(f.PDU[1:3])
	qty := binary.BigEndian.Uint16(f.PDU[3:5])
	byteCount := int(f.PDU[5])

	// Byte-count mismatch deliberately yields the same exception as an
	// out-of-range address, regardless of address validity.
	if int(addr)+int(qty) > s.bank.Size() || byteCount != 2*int(qty) {
		return s.buildException(f, FuncWriteMultipleRegisters, ExceptionIllegalDataAddress), nil
	}
	if len(f.PDU) < 6+byteCount {
		return nil, fmt.Errorf("%w: FC10 data shorter than byte count", ErrMalformedFrame)
	}

	for i := 0; i < int(qty); i++ {
		s.bank.SetUint16(int(addr)+i, binary.BigEndian.Uint16(f.PDU[6+2*i:]))
	}

	resp := f.prefix(6)
	resp = append(resp, byte(f.UnitID), byte(FuncWriteMultipleRegisters))
	resp = binary.BigEndian.AppendUint16(resp, addr)
	resp = binary.BigEndian.AppendUint16(resp, qty)
	return resp, nil
}
