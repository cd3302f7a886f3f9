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

package qsort

import (
	"testing"

	"github.com/valyala/fastrand"
)

// prepare array of given length with a random permutation of 1..n
func shuffledRange(rng *fastrand.RNG, n int) []float64 {
	arr := make([]float64, n)
	for j := range arr {
		arr[j] = float64(j + 1)
	}
	for j := range arr {
		k := rng.Uint32n(uint32(len(arr)))
		arr[j], arr[k] = arr[k], arr[j]
	}
	return arr
}

func TestMedian(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(42)
	for i := 1; i < 1000; i++ {
		arr := shuffledRange(&rng, i)

		var expect float64
		if (i & 1) != 0 {
			expect = float64((i + 1) / 2)
		} else {
			expect = 0.5 * (float64(i/2) + float64(i/2+1))
		}

		res := QSelectMedianFloat64(arr)
		if res != expect {
			t.Errorf("median(1..%d)=%f; want %f", i, res, expect)
		}
	}
}

func TestSelect(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(7)
	for _, n := range []int{1, 2, 3, 17, 64, 257} {
		for k := 1; k <= n; k += 1 + n/10 {
			arr := shuffledRange(&rng, n)
			if res := QSelectFloat64(arr, k); res != float64(k) {
				t.Errorf("select(1..%d, %d)=%f; want %d", n, k, res, k)
			}
		}
	}
}

func TestSort(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(3)
	arr := shuffledRange(&rng, 500)
	arr = append(arr, 250, 250, 1)
	QSortFloat64(arr)
	for i := 1; i < len(arr); i++ {
		if arr[i-1] > arr[i] {
			t.Fatalf("arr[%d]=%f > arr[%d]=%f", i-1, arr[i-1], i, arr[i])
		}
	}
}

func TestMedianEmpty(t *testing.T) {
	if res := QSelectMedianFloat64(nil); res != 0 {
		t.Errorf("median(nil)=%f; want 0", res)
	}
}
