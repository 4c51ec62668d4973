// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package internal

import (
	"sync"
)

// Don't you wish for generic types in golang? Sigh.

// Pool of constant-sized []float64 scratch buffers, keyed by size, to
// reduce allocation overhead while the Updater repeatedly assembles
// J/H scratch for RUNNING peaks.
var poolFootprintFloat64 = struct {
	sync.RWMutex
	m map[int]*sync.Pool
}{m: make(map[int]*sync.Pool)}

// Returns a pool for []float64 buffers of the given size.
func getSizedFootprintPool(size int) *sync.Pool {
	poolFootprintFloat64.RLock()
	pool := poolFootprintFloat64.m[size]
	poolFootprintFloat64.RUnlock()
	if pool == nil {
		pool = &sync.Pool{
			New: func() interface{} {
				return make([]float64, size)
			},
		}
		poolFootprintFloat64.Lock()
		poolFootprintFloat64.m[size] = pool
		poolFootprintFloat64.Unlock()
	}
	return pool
}

// GetFootprintBuffer retrieves a zeroed []float64 of the given size from
// the pool. Used for per-peak J/H scratch sized to the active-parameter
// count k (J and the Jacobian row) or k*k (H).
func GetFootprintBuffer(size int) []float64 {
	pool := getSizedFootprintPool(size)
	buf := pool.Get().([]float64)
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// PutFootprintBuffer returns a buffer obtained from GetFootprintBuffer to
// the pool.
func PutFootprintBuffer(buf []float64) {
	pool := getSizedFootprintPool(len(buf))
	pool.Put(buf) //nolint:staticcheck // intentional slice reuse
}
