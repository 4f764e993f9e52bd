// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

package rawworker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Wire layout of a device packet: an 18-byte header holding the
// null-terminated device identifier, followed by packed little-endian
// samples.
const (
	packetHeaderSize = 18

	// 8×uint16 EEG + 3×float32 accel + 3×float32 gyro + trigger byte +
	// 8×int8 impedance + uint32 boot-relative microseconds.
	sampleSize = 16 + 12 + 12 + 1 + 8 + 4
)

var (
	ErrFrameTooShort = errors.New("frame shorter than packet header")
	ErrBadPayload    = errors.New("frame payload is not a whole number of samples")
)

// Sample is one sensor reading as emitted by the acquisition firmware.
type Sample struct {
	EEG       [8]uint16
	Accel     [3]float32
	Gyro      [3]float32
	Trigger   uint8
	Impedance [8]int8

	// ESPMicros is the device's boot-relative clock in microseconds.
	ESPMicros uint32
}

// Frame is a decoded device packet.
type Frame struct {
	DeviceID string
	Samples  []Sample
}

var zstdDecoder, _ = zstd.NewReader(nil,
	zstd.WithDecoderConcurrency(0),
	zstd.WithDecoderMaxMemory(64<<20),
)

// DecompressFrame decompresses a zstd payload and decodes the contained
// device packet.
func DecompressFrame(compressed []byte) (*Frame, error) {
	raw, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, err
	}
	return DecodeFrame(raw)
}

// DecodeFrame parses a raw device packet. A frame with zero samples is
// valid; the caller skips it.
func DecodeFrame(raw []byte) (*Frame, error) {
	if len(raw) < packetHeaderSize {
		return nil, ErrFrameTooShort
	}

	header := raw[:packetHeaderSize]
	deviceID := header
	if i := bytes.IndexByte(header, 0); i >= 0 {
		deviceID = header[:i]
	}

	payload := raw[packetHeaderSize:]
	if len(payload)%sampleSize != 0 {
		return nil, ErrBadPayload
	}

	frame := &Frame{
		DeviceID: string(deviceID),
		Samples:  make([]Sample, len(payload)/sampleSize),
	}
	for i := range frame.Samples {
		decodeSample(payload[i*sampleSize:(i+1)*sampleSize], &frame.Samples[i])
	}
	return frame, nil
}

func decodeSample(b []byte, s *Sample) {
	off := 0
	for i := range s.EEG {
		s.EEG[i] = binary.LittleEndian.Uint16(b[off:])
		off += 2
	}
	for i := range s.Accel {
		s.Accel[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
		off += 4
	}
	for i := range s.Gyro {
		s.Gyro[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
		off += 4
	}
	s.Trigger = b[off]
	off++
	for i := range s.Impedance {
		s.Impedance[i] = int8(b[off])
		off++
	}
	s.ESPMicros = binary.LittleEndian.Uint32(b[off:])
}

// Window reconstructs the absolute time range of the frame. The device clock
// is boot-relative, so the boot instant is estimated by anchoring the last
// sample to the server receive time; every sample timestamp is then its
// boot-relative offset from that estimate.
func (f *Frame) Window(received time.Time) (start, end time.Time) {
	if len(f.Samples) == 0 {
		return received, received
	}
	last := f.Samples[len(f.Samples)-1].ESPMicros
	boot := received.Add(-time.Duration(last) * time.Microsecond)
	first := f.Samples[0].ESPMicros
	start = boot.Add(time.Duration(first) * time.Microsecond)
	return start, received
}
