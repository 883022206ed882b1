// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import "fmt"

func describeSizes(size, packed int64) string {
	if size == 0 {
		return fmt.Sprintf("%d bytes", packed)
	}
	return fmt.Sprintf("%d bytes, %d packed (%.0f%%)", size, packed, 100*float64(packed)/float64(size))
}

func describeExtent(w, h uint32) string {
	return fmt.Sprintf("%dx%d", w, h)
}
