// Package registry stores the wearables a collector host has been paired with.
package registry

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"pulsera/internal/clock"
	"pulsera/internal/migrate"
)

//go:embed migrations/*.sql
var migrations embed.FS

//go:embed sql/list-devices.sql
var listDevicesSQL string

//go:embed sql/get-device.sql
var getDeviceSQL string

//go:embed sql/insert-device.sql
var insertDeviceSQL string

var (
	ErrNotFound      = errors.New("device not registered")
	ErrExists        = errors.New("device already registered")
	ErrPositionTaken = errors.New("position already assigned")
)

type Device struct {
	Address      string
	Name         string
	Position     Position
	RegisteredAt time.Time
}

type Registry struct {
	db     *sql.DB
	clock  clock.Clock
	logger *slog.Logger
}

// New migrates db and returns a registry over it.
func New(db *sql.DB, c clock.Clock, logger *slog.Logger) (*Registry, error) {
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := migrate.Run(db, migrations, "migrations", logger); err != nil {
		return nil, fmt.Errorf("registry migrate: %w", err)
	}
	return &Registry{db: db, clock: c, logger: logger}, nil
}

// NormalizeAddress upper-cases a MAC-style address so lookups are case-insensitive.
func NormalizeAddress(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}

func (r *Registry) Add(d Device) (Device, error) {
	d.Address = NormalizeAddress(d.Address)
	if d.Address == "" {
		return Device{}, fmt.Errorf("registry: empty address")
	}
	if !d.Position.Valid() {
		return Device{}, fmt.Errorf("registry: invalid position %q", d.Position)
	}
	if _, err := r.Get(d.Address); err == nil {
		return Device{}, fmt.Errorf("%w: %s", ErrExists, d.Address)
	} else if !errors.Is(err, ErrNotFound) {
		return Device{}, err
	}

	d.RegisteredAt = r.clock.Now().UTC()
	_, err := r.db.Exec(insertDeviceSQL, d.Address, d.Name, string(d.Position), d.RegisteredAt.Format(time.RFC3339Nano))
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return Device{}, fmt.Errorf("%w: %s", ErrPositionTaken, d.Position)
		}
		return Device{}, fmt.Errorf("insert device: %w", err)
	}
	r.logger.Info("device registered", "address", d.Address, "name", d.Name, "position", d.Position)
	return d, nil
}

func (r *Registry) Get(addr string) (Device, error) {
	d, err := scanDevice(r.db.QueryRow(getDeviceSQL, NormalizeAddress(addr)))
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, fmt.Errorf("%w: %s", ErrNotFound, NormalizeAddress(addr))
	}
	return d, err
}

func (r *Registry) List() ([]Device, error) {
	rows, err := r.db.Query(listDevicesSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("close device rows", "error", err)
		}
	}()
	var out []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Registry) Remove(addr string) error {
	addr = NormalizeAddress(addr)
	res, err := r.db.Exec(`DELETE FROM devices WHERE address = ?`, addr)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	r.logger.Info("device removed", "address", addr)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (Device, error) {
	var (
		d   Device
		pos string
		ts  string
	)
	if err := s.Scan(&d.Address, &d.Name, &pos, &ts); err != nil {
		return Device{}, err
	}
	d.Position = Position(pos)
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Device{}, fmt.Errorf("parse registered_at %q: %w", ts, err)
	}
	d.RegisteredAt = t
	return d, nil
}
