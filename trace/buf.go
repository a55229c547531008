// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trace

type bufEncoder struct {
	buf []byte
}

func (b *bufEncoder) u32(x uint32) {
	b.buf = order.AppendUint32(b.buf, x)
}

func (b *bufEncoder) u64(x uint64) {
	b.buf = order.AppendUint64(b.buf, x)
}

func (b *bufEncoder) u32s(x []uint32) {
	for _, v := range x {
		b.u32(v)
	}
}

func (b *bufEncoder) u64s(x []uint64) {
	for _, v := range x {
		b.u64(v)
	}
}

type bufDecoder struct {
	buf []byte
}

func (b *bufDecoder) u32() uint32 {
	x := order.Uint32(b.buf)
	b.buf = b.buf[4:]
	return x
}

func (b *bufDecoder) u64() uint64 {
	x := order.Uint64(b.buf)
	b.buf = b.buf[8:]
	return x
}

func (b *bufDecoder) u32s(x []uint32) {
	for i := range x {
		x[i] = order.Uint32(b.buf[i*4:])
	}
	b.buf = b.buf[len(x)*4:]
}

func (b *bufDecoder) u64s(x []uint64) {
	for i := range x {
		x[i] = order.Uint64(b.buf[i*8:])
	}
	b.buf = b.buf[len(x)*8:]
}
