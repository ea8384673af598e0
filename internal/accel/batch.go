// Package accel holds the accelerometer data model, its BLE wire format and the
// batch assembler that groups consecutive samples into sequenced batches.
//
// Wire format (little-endian, no padding):
//
//	[0:4]  sequence_id        uint32
//	[4:8]  timestamp_start_ms uint32
//	[8:]   N x (x int16, y int16, z int16)
package accel

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// BatchSize is the number of samples carried by every delivered batch.
	BatchSize = 35

	// SampleWireSize is the encoded size of one sample.
	SampleWireSize = 6
	// HeaderWireSize is the encoded size of the batch header.
	HeaderWireSize = 8
	// BatchWireSize is the encoded size of a full batch (218 bytes).
	BatchWireSize = HeaderWireSize + BatchSize*SampleWireSize
)

// ErrFrameSize is returned when a payload does not have the expected length.
var ErrFrameSize = errors.New("accel: invalid frame size")

// Sample is one 3-axis acceleration reading in raw sensor counts.
type Sample struct {
	X int16 `json:"x"`
	Y int16 `json:"y"`
	Z int16 `json:"z"`
}

// Batch is a fixed-size run of consecutive samples.
type Batch struct {
	SequenceID       uint32
	TimestampStartMS uint32
	Samples          [BatchSize]Sample
}

// AppendSample appends the 6-byte encoding of s to dst.
func AppendSample(dst []byte, s Sample) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(s.X))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(s.Y))
	return binary.LittleEndian.AppendUint16(dst, uint16(s.Z))
}

// ParseSample decodes a 6-byte sample.
func ParseSample(b []byte) (Sample, error) {
	if len(b) != SampleWireSize {
		return Sample{}, fmt.Errorf("%w: sample is %d bytes, want %d", ErrFrameSize, len(b), SampleWireSize)
	}
	return Sample{
		X: int16(binary.LittleEndian.Uint16(b[0:2])),
		Y: int16(binary.LittleEndian.Uint16(b[2:4])),
		Z: int16(binary.LittleEndian.Uint16(b[4:6])),
	}, nil
}

// AppendFrame appends a header and the given samples to dst. It accepts any number of
// samples; Batch.MarshalBinary always writes exactly BatchSize.
func AppendFrame(dst []byte, seq, tsStartMS uint32, samples []Sample) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, seq)
	dst = binary.LittleEndian.AppendUint32(dst, tsStartMS)
	for _, s := range samples {
		dst = AppendSample(dst, s)
	}
	return dst
}

// ParseFrame decodes a header followed by a whole number of samples.
func ParseFrame(b []byte) (seq, tsStartMS uint32, samples []Sample, err error) {
	if len(b) < HeaderWireSize || (len(b)-HeaderWireSize)%SampleWireSize != 0 {
		return 0, 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameSize, len(b))
	}
	seq = binary.LittleEndian.Uint32(b[0:4])
	tsStartMS = binary.LittleEndian.Uint32(b[4:8])
	body := b[HeaderWireSize:]
	samples = make([]Sample, 0, len(body)/SampleWireSize)
	for off := 0; off < len(body); off += SampleWireSize {
		s, _ := ParseSample(body[off : off+SampleWireSize])
		samples = append(samples, s)
	}
	return seq, tsStartMS, samples, nil
}

// AppendBinary appends the wire encoding of the batch to dst.
func (b *Batch) AppendBinary(dst []byte) ([]byte, error) {
	return AppendFrame(dst, b.SequenceID, b.TimestampStartMS, b.Samples[:]), nil
}

// MarshalBinary returns the BatchWireSize-byte wire encoding of the batch.
func (b *Batch) MarshalBinary() ([]byte, error) {
	return b.AppendBinary(make([]byte, 0, BatchWireSize))
}

// UnmarshalBinary decodes a full batch. Payloads of any other length are rejected.
func (b *Batch) UnmarshalBinary(data []byte) error {
	if len(data) != BatchWireSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(data), BatchWireSize)
	}
	seq, ts, samples, err := ParseFrame(data)
	if err != nil {
		return err
	}
	b.SequenceID = seq
	b.TimestampStartMS = ts
	copy(b.Samples[:], samples)
	return nil
}
