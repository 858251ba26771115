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
	"io"
)

// Frame is one complete Modbus TCP request as read off the wire.
//
// The length field of the MBAP header is authoritative for framing: it
// counts the unit identifier plus the PDU, and frame boundaries cannot be
// recovered from the byte stream without obeying it.
type Frame struct {
	TransactionID uint16
	ProtocolID    uint16
	UnitID        UnitID
	PDU           []byte // function code + payload, may be empty

	raw []byte // the full frame as received, prefix included
}

// Bytes returns a copy of the raw frame bytes, MBAP prefix included.
func (f *Frame) Bytes() []byte {
	out := make([]byte, len(f.raw))
	copy(out, f.raw)
	return out
}

// bodyLen returns the number of bytes following the length field.
func (f *Frame) bodyLen() int {
	return len(f.raw) - MBAPPrefixSize
}

// prefix builds a 6-byte MBAP prefix echoing the request's transaction and
// protocol identifiers with the given length field.
func (f *Frame) prefix(length uint16) []byte {
	buf := make([]byte, MBAPPrefixSize)
	binary.BigEndian.PutUint16(buf[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], length)
	return buf
}

// ReadFrame reads one complete Modbus TCP frame from r. It reads exactly
// six prefix bytes, decodes the big-endian length field, and reads exactly
// that many body bytes (unit identifier + PDU). Any short read means the
// connection is gone; no resynchronization is attempted.
//
// A non-zero protocol identifier is accepted and echoed verbatim, and no
// frame size limit is enforced beyond the 16-bit length field itself;
// admission control is left to the caller.
func ReadFrame(r io.Reader) (*Frame, error) {
	prefix := make([]byte, MBAPPrefixSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}

	length := binary.BigEndian.Uint16(prefix[4:6])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}

	f := &Frame{
		TransactionID: binary.BigEndian.Uint16(prefix[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(prefix[2:4]),
		raw:           append(prefix, body...),
	}
	if len(body) > 0 {
		f.UnitID = UnitID(body[0])
		f.PDU = body[1:]
	}
	return f, nil
}
