// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package numpy reads and writes tensors in NumPy's .npy format, the format used to ship
// fixture inputs and expected values to the backend kernel test runners.
//
// Values are written in C (row-major) order, little-endian, as float32 ('<f4') or, when
// requested, as float16 ('<f2') using github.com/x448/float16. Reading accepts both and
// always returns float32 tensors. The .npy format carries no axis names, so the order of the
// tensor must be given when reading.
package numpy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerneltest/pkg/core/shapes"
	"github.com/gomlx/kerneltest/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

const magic = "\x93NUMPY"

// ToNpyWriter serializes tensor to w in .npy format (version 1.0), encoding values with the given dtype
// (dtypes.Float32 or dtypes.Float16).
func ToNpyWriter(tensor *tensors.Tensor, dtype dtypes.DType, w io.Writer) error {
	descr, err := npyDescr(dtype)
	if err != nil {
		return err
	}
	shape := tensor.Shape()

	// Note the trailing comma in shape tuple for 1D arrays.
	var shapeTuple string
	if shape.Rank() == 1 {
		shapeTuple = fmt.Sprintf("(%d,)", shape.Dimensions[0])
	} else {
		dimsStr := make([]string, shape.Rank())
		for i, dim := range shape.Dimensions {
			dimsStr[i] = strconv.Itoa(dim)
		}
		shapeTuple = fmt.Sprintf("(%s)", strings.Join(dimsStr, ", "))
	}
	headerDict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, shapeTuple)

	// Magic (6) + Version (2) + HeaderLen (2) = 10 bytes of preamble, and the whole preamble+header
	// must be a multiple of 16 bytes, terminated with a newline.
	var headerBuf bytes.Buffer
	headerBuf.WriteString(headerDict)
	for (10+headerBuf.Len()+1)%16 != 0 {
		headerBuf.WriteByte(' ')
	}
	headerBuf.WriteByte('\n')

	var out bytes.Buffer
	out.WriteString(magic)
	out.Write([]byte{1, 0})
	_ = binary.Write(&out, binary.LittleEndian, uint16(headerBuf.Len()))
	out.Write(headerBuf.Bytes())
	tensor.ConstFlatData(func(flat []float32) {
		buf := make([]byte, 4)
		for _, v := range flat {
			if dtype == dtypes.Float16 {
				binary.LittleEndian.PutUint16(buf, float16.Fromfloat32(v).Bits())
				out.Write(buf[:2])
			} else {
				binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
				out.Write(buf)
			}
		}
	})
	if _, err := w.Write(out.Bytes()); err != nil {
		return errors.Wrapf(err, "failed to write .npy data for tensor %s", shape)
	}
	return nil
}

// FromNpyReader reads a .npy stream and returns a float32 tensor with the given order.
func FromNpyReader(r io.Reader, order shapes.Order) (*tensors.Tensor, error) {
	preamble := make([]byte, 8)
	if _, err := io.ReadFull(r, preamble); err != nil {
		return nil, errors.Wrapf(err, "failed to read .npy magic string")
	}
	if string(preamble[:6]) != magic {
		return nil, errors.Errorf("invalid .npy file format: magic string mismatch")
	}

	var headerLen int
	switch major := preamble[6]; {
	case major == 1:
		var l uint16
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, errors.Wrapf(err, "failed to read header length (v1.0)")
		}
		headerLen = int(l)
	case major >= 2:
		var l uint32
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, errors.Wrapf(err, "failed to read header length (v2.0+)")
		}
		headerLen = int(l)
	default:
		return nil, errors.Errorf("unsupported .npy version: %d.%d", preamble[6], preamble[7])
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errors.Wrapf(err, "failed to read header")
	}
	descr, dims, fortranOrder, err := parseNpyHeader(string(headerBytes))
	if err != nil {
		return nil, errors.WithMessage(err, "failed to parse .npy header")
	}
	if fortranOrder && len(dims) > 1 {
		return nil, errors.Errorf(".npy files in Fortran order are not supported")
	}
	size := 1
	for _, dim := range dims {
		// 4 bytes per value must also fit in an int.
		if dim > math.MaxInt/4/size {
			return nil, errors.Errorf(".npy shape %v is too large", dims)
		}
		size *= dim
	}

	flat := make([]float32, size)
	switch descr {
	case "<f4":
		data := make([]byte, 4*size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, errors.Wrapf(err, "failed to read tensor data (expected %d bytes)", len(data))
		}
		for ii := range flat {
			flat[ii] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*ii:]))
		}
	case "<f2":
		data := make([]byte, 2*size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, errors.Wrapf(err, "failed to read tensor data (expected %d bytes)", len(data))
		}
		for ii := range flat {
			flat[ii] = float16.Frombits(binary.LittleEndian.Uint16(data[2*ii:])).Float32()
		}
	default:
		return nil, errors.Errorf("unsupported NumPy dtype %q: only '<f4' and '<f2' are supported", descr)
	}
	return tensors.FromFlatDataAndDimensions(order, flat, dims...)
}

var (
	reDescr   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	reFortran = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	reShape   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// parseNpyHeader extracts dtype, shape, and fortran_order from the .npy header string.
// This is a simplified parser, enough for the headers written by NumPy and by ToNpyWriter.
func parseNpyHeader(header string) (descr string, dims []int, fortranOrder bool, err error) {
	mDescr := reDescr.FindStringSubmatch(header)
	if len(mDescr) < 2 {
		err = errors.Errorf("could not find 'descr' in header: %q", header)
		return
	}
	descr = mDescr[1]

	mFortran := reFortran.FindStringSubmatch(header)
	if len(mFortran) < 2 {
		err = errors.Errorf("could not find 'fortran_order' in header: %q", header)
		return
	}
	fortranOrder = mFortran[1] == "True"

	mShape := reShape.FindStringSubmatch(header)
	if len(mShape) < 2 {
		err = errors.Errorf("could not find 'shape' in header: %q", header)
		return
	}
	for _, p := range strings.Split(mShape[1], ",") {
		p = strings.TrimSpace(p)
		if p == "" { // Handles trailing comma like (10,)
			continue
		}
		val, pErr := strconv.Atoi(p)
		if pErr != nil {
			err = errors.Wrapf(pErr, "invalid shape value %q in header", p)
			return
		}
		if val <= 0 {
			err = errors.Errorf("invalid dimension %d in header shape (%s)", val, mShape[1])
			return
		}
		dims = append(dims, val)
	}
	return
}

func npyDescr(dtype dtypes.DType) (string, error) {
	switch dtype {
	case dtypes.Float32:
		return "<f4", nil
	case dtypes.Float16:
		return "<f2", nil
	}
	return "", errors.Errorf("dtype %s not supported for .npy export, use Float32 or Float16", dtype)
}
