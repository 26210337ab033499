package tensor

import (
	"runtime"
	"sync"
)

const (
	tileM = 32
	tileN = 64
	tileK = 32
)

// minRowsPerWorker keeps small products on the calling goroutine.
const minRowsPerWorker = 8

// Gemm computes C = A*B on the calling goroutine.
func Gemm(C, A, B *Mat) {
	GemmPar(C, A, B, 1)
}

// GemmPar computes C = A*B using a blocked loop nest, splitting the output
// rows across up to workers goroutines. workers <= 0 selects GOMAXPROCS.
func GemmPar(C, A, B *Mat, workers int) {
	if A.C != B.R || C.R != A.R || C.C != B.C {
		panic("gemm: dimension mismatch")
	}
	if C.R == 0 || C.C == 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, C.R/minRowsPerWorker)
	if workers <= 1 {
		gemmRangeRows(C, A, B, 0, C.R)
		return
	}

	chunk := (C.R + workers - 1) / workers
	var wg sync.WaitGroup
	for rs := 0; rs < C.R; rs += chunk {
		re := min(rs+chunk, C.R)
		wg.Go(func() { gemmRangeRows(C, A, B, rs, re) })
	}
	wg.Wait()
}

// gemmRangeRows performs a blocked GEMM on a contiguous range of rows of C.
func gemmRangeRows(C, A, B *Mat, rs, re int) {
	n := C.C
	for i := rs; i < re; i++ {
		clear(C.Data[i*C.Stride : i*C.Stride+n])
	}
	k := A.C
	for i0 := rs; i0 < re; i0 += tileM {
		iMax := min(i0+tileM, re)
		for k0 := 0; k0 < k; k0 += tileK {
			kMax := min(k0+tileK, k)
			for j0 := 0; j0 < n; j0 += tileN {
				jMax := min(j0+tileN, n)
				blockUpdate(C.Data, A.Data, B.Data, C.Stride, A.Stride, B.Stride, i0, iMax, j0, jMax, k0, kMax)
			}
		}
	}
}

func blockUpdate(cData, aData, bData []float32, cStride, aStride, bStride int, i0, iMax, j0, jMax, k0, kMax int) {
	width := jMax - j0
	for i := i0; i < iMax; i++ {
		aRow := aData[i*aStride:]
		cOff := i*cStride + j0
		cRow := cData[cOff : cOff+width]

		for kk := k0; kk < kMax; kk++ {
			aik := aRow[kk]
			if aik == 0 {
				continue
			}
			bOff := kk*bStride + j0
			bRow := bData[bOff : bOff+width]

			j := 0
			for ; j+3 < width; j += 4 {
				cRow[j+0] += aik * bRow[j+0]
				cRow[j+1] += aik * bRow[j+1]
				cRow[j+2] += aik * bRow[j+2]
				cRow[j+3] += aik * bRow[j+3]
			}
			for ; j < width; j++ {
				cRow[j] += aik * bRow[j]
			}
		}
	}
}
