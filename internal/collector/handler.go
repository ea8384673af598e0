package collector

import (
	"fmt"
	"log/slog"

	"pulsera/internal/accel"
	"pulsera/internal/clock"
	"pulsera/internal/telemetry"
	"pulsera/internal/utils"
)

// Publisher forwards decoded batches.
type Publisher interface {
	PublishBatch(position string, msg telemetry.BatchMessage) error
}

// Handler decodes notifications, tracks sequence gaps and publishes batches.
type Handler struct {
	pub    Publisher
	clock  clock.Clock
	logger *slog.Logger
}

func NewHandler(pub Publisher, c clock.Clock, logger *slog.Logger) *Handler {
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{pub: pub, clock: c, logger: logger}
}

// Handle processes one notification payload received on s.
// Payloads that are not exactly one batch are rejected.
func (h *Handler) Handle(s *Session, payload []byte) error {
	dev := s.Device
	var b accel.Batch
	if err := b.UnmarshalBinary(payload); err != nil {
		s.reject()
		h.logger.Warn("batch rejected",
			"device", dev.Address,
			"position", dev.Position,
			"len", len(payload),
			"want", accel.BatchWireSize,
			"head", utils.HeadHex(payload, 16),
		)
		return fmt.Errorf("decode batch from %s: %w", dev.Address, err)
	}

	gap := s.observe(b.SequenceID)
	switch {
	case gap.Lost > 0:
		h.logger.Warn("batches lost", "device", dev.Address, "position", dev.Position, "lost", gap.Lost, "seq", b.SequenceID)
	case gap.Restarted:
		h.logger.Info("device sequence restarted", "device", dev.Address, "position", dev.Position, "seq", b.SequenceID)
	}

	msg := telemetry.FromBatch(b)
	msg.Device = dev.Address
	msg.Name = dev.Name
	msg.SessionID = s.ID.String()
	msg.ReceivedAt = h.clock.Now().UTC()
	msg.Lost = gap.Lost
	msg.Restarted = gap.Restarted

	if err := h.pub.PublishBatch(string(dev.Position), msg); err != nil {
		h.logger.Warn("failed to publish batch", "device", dev.Address, "seq", b.SequenceID, "error", err)
		return err
	}

	h.logger.Info("batch received",
		"device", dev.Address,
		"position", dev.Position,
		"seq", b.SequenceID,
		"ts_ms", b.TimestampStartMS,
		"samples", len(b.Samples),
	)
	return nil
}
