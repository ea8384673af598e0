// Package telemetry defines the JSON documents the collector publishes.
package telemetry

import (
	"time"

	"pulsera/internal/accel"
)

// BatchMessage is one decoded accelerometer batch as published on
// <prefix>/<position>/batches.
type BatchMessage struct {
	Device           string      `json:"device"`
	Name             string      `json:"name,omitempty"`
	Position         string      `json:"position"`
	SessionID        string      `json:"session_id"`
	ReceivedAt       time.Time   `json:"received_at"`
	SequenceID       uint32      `json:"sequence_id"`
	TimestampStartMS uint32      `json:"timestamp_start_ms"`
	Lost             uint32      `json:"lost,omitempty"`
	Restarted        bool        `json:"restarted,omitempty"`
	Samples          []XYZSample `json:"samples"`
}

type XYZSample struct {
	X int16 `json:"x"`
	Y int16 `json:"y"`
	Z int16 `json:"z"`
}

// FromBatch copies b's header and samples into a message.
func FromBatch(b accel.Batch) BatchMessage {
	m := BatchMessage{
		SequenceID:       b.SequenceID,
		TimestampStartMS: b.TimestampStartMS,
		Samples:          make([]XYZSample, len(b.Samples)),
	}
	for i, s := range b.Samples {
		m.Samples[i] = XYZSample{X: s.X, Y: s.Y, Z: s.Z}
	}
	return m
}
