package compress

import "github.com/eeptools/cnt/internal/bits"

// Transfer between the client layout and the canonical row major unsigned
// matrix. The row order maps storage to client: storage row k holds client
// row order[k]. Column major clients store one sample of every channel
// contiguously, so channel r of sample i lives at index i*height + r.

func fromClientRowMajor[T Sample](dst []uint64, src []T, order []int16, length int, mask uint64) {
	for k, row := range order {
		lib := dst[k*length : (k+1)*length]
		app := src[int(row)*length : (int(row)+1)*length]
		for i, v := range app {
			lib[i] = uint64(v) & mask
		}
	}
}

func fromClientColumnMajor[T Sample](dst []uint64, src []T, order []int16, length int, mask uint64) {
	height := len(order)
	for k, row := range order {
		lib := dst[k*length : (k+1)*length]
		for i := 0; i < length; i++ {
			lib[i] = uint64(src[i*height+int(row)]) & mask
		}
	}
}

func toClientRowMajor[T Sample](dst []T, src []uint64, order []int16, length int, width uint) {
	for k, row := range order {
		lib := src[k*length : (k+1)*length]
		app := dst[int(row)*length : (int(row)+1)*length]
		for i, v := range lib {
			app[i] = T(bits.IntN(v, width))
		}
	}
}

func toClientColumnMajor[T Sample](dst []T, src []uint64, order []int16, length int, width uint) {
	height := len(order)
	for k, row := range order {
		lib := src[k*length : (k+1)*length]
		for i, v := range lib {
			dst[i*height+int(row)] = T(bits.IntN(v, width))
		}
	}
}
