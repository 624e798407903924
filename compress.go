package rawstore

import (
	"bytes"
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
)

type CompressAlgorithm uint16

const (
	CompSnappy CompressAlgorithm = iota // default
	CompNone
	CompLz4
	CompZstd
)

func (a CompressAlgorithm) String() string {
	switch a {
	case CompSnappy:
		return "snappy"
	case CompNone:
		return "none"
	case CompLz4:
		return "lz4"
	case CompZstd:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", uint16(a))
}

type Compressor func([]byte) []byte
type DeCompressor func([]byte) ([]byte, error)

var (
	SnappyCompress Compressor = func(in []byte) []byte {
		return snappy.Encode(nil, in)
	}
	SnappyDeCompress DeCompressor = func(in []byte) ([]byte, error) {
		return snappy.Decode(nil, in)
	}
)

var (
	Lz4Compress Compressor = func(in []byte) []byte {
		buf := &bytes.Buffer{}
		writer := lz4.NewWriter(buf)
		writer.NoChecksum = true
		if _, err := writer.Write(in); err != nil {
			panic(err)
		}
		if err := writer.Close(); err != nil {
			panic(err)
		}
		return buf.Bytes()
	}

	Lz4DeCompress DeCompressor = func(in []byte) ([]byte, error) {
		buf := &bytes.Buffer{}
		reader := lz4.NewReader(bytes.NewReader(in))
		_, err := buf.ReadFrom(reader)
		return buf.Bytes(), err
	}
)

// zstd coders are safe for concurrent EncodeAll / DecodeAll.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)

	ZstdCompress Compressor = func(in []byte) []byte {
		return zstdEncoder.EncodeAll(in, nil)
	}
	ZstdDeCompress DeCompressor = func(in []byte) ([]byte, error) {
		return zstdDecoder.DecodeAll(in, nil)
	}
)

// Codec returns the compressor pair of an algorithm. CompNone has nil
// functions.
func (a CompressAlgorithm) Codec() (Compressor, DeCompressor, error) {
	switch a {
	case CompSnappy:
		return SnappyCompress, SnappyDeCompress, nil
	case CompNone:
		return nil, nil, nil
	case CompLz4:
		return Lz4Compress, Lz4DeCompress, nil
	case CompZstd:
		return ZstdCompress, ZstdDeCompress, nil
	}
	return nil, nil, errors.Errorf("unknown compression algorithm %d", uint16(a))
}
