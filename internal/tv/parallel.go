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

package tv

import (
	"sync"
)

// Minimum number of rows handed to one goroutine. Smaller bands cost more in scheduling than they save
const minRowsPerBand = 16

// Splits rows [0,height) into contiguous bands and calls fn(y0, y1) for each band,
// using up to threads goroutines. Runs inline for a single band. Every row is
// visited exactly once, so per-pixel results do not depend on the thread count.
func ForEachRowBand(height, threads int, fn func(y0, y1 int)) {
	bands := threads
	if maxBands := height / minRowsPerBand; bands > maxBands {
		bands = maxBands
	}
	if bands <= 1 {
		fn(0, height)
		return
	}

	var wg sync.WaitGroup
	wg.Add(bands)
	for b := 0; b < bands; b++ {
		y0, y1 := b*height/bands, (b+1)*height/bands
		go func(y0, y1 int) {
			defer wg.Done()
			fn(y0, y1)
		}(y0, y1)
	}
	wg.Wait()
}
