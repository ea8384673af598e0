package httpapi

import (
	"net/http"
	"time"
)

func (d Deps) handleHealthz(w http.ResponseWriter, r *http.Request) {
	var ok int
	if err := d.DB.QueryRowContext(r.Context(), `SELECT 1`).Scan(&ok); err != nil {
		d.logger().Error("failed to check database connectivity", "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to check database connectivity")
		return
	}
	mqtt := "disabled"
	if d.Broker != nil {
		mqtt = "disconnected"
		if d.Broker.IsConnected() {
			mqtt = "connected"
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mqtt": mqtt})
}

type deviceView struct {
	Address      string    `json:"address"`
	Name         string    `json:"name"`
	Position     string    `json:"position"`
	RegisteredAt time.Time `json:"registered_at"`
	Online       bool      `json:"online"`

	SessionID    string     `json:"session_id,omitempty"`
	SessionStart *time.Time `json:"session_start,omitempty"`
	Received     uint64     `json:"received"`
	Lost         uint64     `json:"lost"`
	Restarts     int        `json:"restarts"`
	Rejected     uint64     `json:"rejected"`
}

func (d Deps) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := d.Registry.List()
	if err != nil {
		d.logger().Error("list devices", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}

	out := make([]deviceView, 0, len(devices))
	byAddr := make(map[string]int, len(devices))
	for _, dev := range devices {
		byAddr[dev.Address] = len(out)
		out = append(out, deviceView{
			Address:      dev.Address,
			Name:         dev.Name,
			Position:     string(dev.Position),
			RegisteredAt: dev.RegisteredAt,
		})
	}
	if d.Sessions != nil {
		for _, s := range d.Sessions() {
			i, ok := byAddr[s.Device.Address]
			if !ok {
				continue
			}
			st := s.Stats()
			start := s.StartedAt
			v := &out[i]
			v.Online = true
			v.SessionID = s.ID.String()
			v.SessionStart = &start
			v.Received, v.Lost, v.Restarts, v.Rejected = st.Received, st.Lost, st.Restarts, st.Rejected
		}
	}
	writeJSON(w, http.StatusOK, out)
}
