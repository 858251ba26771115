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

import "sync"

// MemoryBank is an in-memory RegisterBank. It is safe for concurrent use:
// each GetUint16/SetUint16 call is atomic. A multi-register write performed
// by the dispatcher touches one cell at a time, so a concurrent reader may
// see it partially applied; callers needing stronger consistency must
// serialize at a higher level.
type MemoryBank struct {
	mu    sync.RWMutex
	cells []uint16
}

// NewMemoryBank creates a bank with size zero-valued registers.
func NewMemoryBank(size int) *MemoryBank {
	return &MemoryBank{
		cells: make([]uint16, size),
	}
}

// Size returns the number of registers in the bank.
func (b *MemoryBank) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.cells)
}

// GetUint16 returns the register at index, or 0 if index is out of range.
func (b *MemoryBank) GetUint16(index int) uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if index < 0 || index >= len(b.cells) {
		return 0
	}
	return b.cells[index]
}

// SetUint16 sets the register at index. Out-of-range indexes are ignored.
func (b *MemoryBank) SetUint16(index int, value uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.cells) {
		return
	}
	b.cells[index] = value
}

// Resize grows or shrinks the bank to size registers. Existing values below
// the new size are preserved; grown cells read as zero.
func (b *MemoryBank) Resize(size int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if size < 0 {
		size = 0
	}
	cells := make([]uint16, size)
	copy(cells, b.cells)
	b.cells = cells
}

// Snapshot returns a copy of the current register contents.
func (b *MemoryBank) Snapshot() []uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]uint16, len(b.cells))
	copy(out, b.cells)
	return out
}
