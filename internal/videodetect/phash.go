package videodetect

import "math/bits"

// dhashGridW and dhashGridH define the 9x8 sampling grid used to build a
// 64-bit differential hash (§4.5, glossary "dHash"): 8 row-wise comparisons
// per row across 8 rows = 64 bits.
const (
	dhashGridW = 9
	dhashGridH = 8
)

// DHash computes a 64-bit perceptual hash from a row-major grayscale buffer
// of width w and height h by resampling it onto a 9x8 grid and comparing
// each pixel to its right-hand neighbour.
func DHash(buf []byte, w, h int) uint64 {
	grid := resampleGrid(buf, w, h, dhashGridW, dhashGridH)

	var hash uint64
	bit := 0
	for y := 0; y < dhashGridH; y++ {
		for x := 0; x < dhashGridW-1; x++ {
			left := grid[y*dhashGridW+x]
			right := grid[y*dhashGridW+x+1]
			if left < right {
				hash |= 1 << uint(bit)
			}
			bit++
		}
	}
	return hash
}

// resampleGrid nearest-neighbour samples buf (w x h) down to gw x gh.
func resampleGrid(buf []byte, w, h, gw, gh int) []byte {
	out := make([]byte, gw*gh)
	for gy := 0; gy < gh; gy++ {
		sy := gy * h / gh
		for gx := 0; gx < gw; gx++ {
			sx := gx * w / gw
			out[gy*gw+gx] = buf[sy*w+sx]
		}
	}
	return out
}

// HammingDistance returns the number of differing bits between two 64-bit
// hashes.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
