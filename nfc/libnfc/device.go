// Package libnfc turns tags found on a libnfc reader into nfc.Session values
// and polls the reader for new encounters.
package libnfc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/clausecker/freefare"
	gonfc "github.com/clausecker/nfc/v2"
	"go.uber.org/zap"

	"github.com/nedpals/nfcard/nfc"
)

const (
	// DeviceEnumRetries is how often device listing is retried before giving up.
	DeviceEnumRetries = 3
	enumRetryDelay    = 100 * time.Millisecond
)

// ErrNoDevice is returned when no libnfc device is connected.
var ErrNoDevice = errors.New("no libnfc device found")

// ListDevices returns the connection strings of all libnfc devices.
func ListDevices() ([]string, error) {
	var lastErr error
	for i := 0; i < DeviceEnumRetries; i++ {
		devices, err := gonfc.ListDevices()
		if err == nil {
			return devices, nil
		}
		lastErr = err
		time.Sleep(enumRetryDelay)
	}
	return nil, fmt.Errorf("list devices after %d attempts: %w", DeviceEnumRetries, lastErr)
}

// Device is an open libnfc reader in initiator mode.
type Device struct {
	dev    gonfc.Device
	conn   string
	logger *zap.Logger
	closed atomic.Bool
}

// Open opens the device named by conn, or the first listed device when conn
// is empty.
func Open(conn string, logger *zap.Logger) (*Device, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if conn == "" {
		devices, err := ListDevices()
		if err != nil {
			return nil, err
		}
		if len(devices) == 0 {
			return nil, ErrNoDevice
		}
		conn = devices[0]
	}

	dev, err := gonfc.Open(conn)
	if err != nil {
		return nil, nfc.NewConnectError("Open device", err)
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return nil, nfc.NewConnectError("InitiatorInit", err)
	}

	logger.Info("Opened NFC device", zap.String("device", dev.String()), zap.String("connection", conn))
	return &Device{dev: dev, conn: conn, logger: logger}, nil
}

func (d *Device) String() string {
	return d.dev.String()
}

// Connection returns the libnfc connection string.
func (d *Device) Connection() string {
	return d.conn
}

// Close releases the device. Detect returns nfc.ErrDeviceClosed afterwards.
func (d *Device) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.dev.Close()
}

// Detect returns one session per tag currently in the field. ISO 14443A
// targets are matched with the freefare tag of the same UID to add the MIFARE
// technologies. Modulations the device cannot poll are skipped.
func (d *Device) Detect(ctx context.Context) ([]nfc.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.closed.Load() {
		return nil, fmt.Errorf("detect on %s: %w", d.conn, nfc.ErrDeviceClosed)
	}

	mifare := map[string]freefare.Tag{}
	tags, err := freefare.GetTags(d.dev)
	if err != nil {
		d.logger.Debug("freefare tag listing failed", zap.Error(err))
	}
	for _, t := range tags {
		mifare[normalizeUID(t.UID())] = t
	}

	var sessions []nfc.Session
	targets, errA := d.dev.InitiatorListPassiveTargets(gonfc.Modulation{Type: gonfc.ISO14443a, BaudRate: gonfc.Nbr106})
	if errA != nil {
		d.logger.Debug("ISO14443A poll failed", zap.Error(errA))
	}
	for _, t := range targets {
		a, ok := t.(*gonfc.ISO14443aTarget)
		if !ok {
			continue
		}
		id, info := fromISO14443a(a)
		det := detected{id: id, a: info}
		switch ft := mifare[id.String()].(type) {
		case freefare.ClassicTag:
			det.classic = classicAdapter{ft}
		case freefare.UltralightTag:
			det.ultralight = ultralightAdapter{ft}
			det.ulType = ultralightType(ft)
		}
		sessions = append(sessions, newSession(d.conn, det, d.logger))
	}

	if targets, err := d.dev.InitiatorListPassiveTargets(gonfc.Modulation{Type: gonfc.ISO14443b, BaudRate: gonfc.Nbr106}); err == nil {
		for _, t := range targets {
			if b, ok := t.(*gonfc.ISO14443bTarget); ok {
				id, info := fromISO14443b(b)
				sessions = append(sessions, newSession(d.conn, detected{id: id, b: info}, d.logger))
			}
		}
	}

	if targets, err := d.dev.InitiatorListPassiveTargets(gonfc.Modulation{Type: gonfc.Felica, BaudRate: gonfc.Nbr212}); err == nil {
		for _, t := range targets {
			if f, ok := t.(*gonfc.FelicaTarget); ok {
				id, info := fromFelica(f)
				sessions = append(sessions, newSession(d.conn, detected{id: id, f: info}, d.logger))
			}
		}
	}

	if errA != nil && len(sessions) == 0 {
		if nfc.IsDeviceClosedError(errA) {
			return nil, fmt.Errorf("detect on %s: %w: %v", d.conn, nfc.ErrDeviceClosed, errA)
		}
		return nil, nfc.NewReadError("Detect", errA)
	}
	return sessions, nil
}

// detected is what polling learned about one tag before probing it.
type detected struct {
	id         nfc.TagID
	a          *iso14443a
	b          *iso14443b
	f          *felica
	classic    classicTag
	ultralight ultralightTag
	ulType     nfc.UltralightType
}

// newSession probes the MIFARE tag, if any, to decide between NDEF and
// NdefFormatable and builds the session's technology list.
func newSession(source string, det detected, logger *zap.Logger) *Session {
	s := &Session{
		id:         det.id,
		source:     source,
		a:          det.a,
		b:          det.b,
		f:          det.f,
		classic:    det.classic,
		ultralight: det.ultralight,
		ulType:     det.ulType,
	}
	if s.a != nil {
		s.techs = s.techs.With(nfc.TechNfcA)
	}
	if s.b != nil {
		s.techs = s.techs.With(nfc.TechNfcB)
	}
	if s.f != nil {
		s.techs = s.techs.With(nfc.TechNfcF)
	}

	switch {
	case s.classic != nil:
		s.techs = s.techs.With(nfc.TechMifareClassic)
		if tech, ok := probeClassic(s.classic, logger); ok {
			s.techs = s.techs.With(tech)
		}
	case s.ultralight != nil:
		s.techs = s.techs.With(nfc.TechMifareUltralight)
		if tech, pages, ok := probeUltralight(s.ultralight, logger); ok {
			s.techs = s.techs.With(tech)
			s.ulPages = pages
		}
	}
	return s
}

// probeClassic reports NDEF when the tag carries a MAD and NdefFormatable
// when it is still in factory state. A tag that is neither gets no NDEF
// technology.
func probeClassic(tag classicTag, logger *zap.Logger) (nfc.Technology, bool) {
	if err := tag.Connect(); err != nil {
		logger.Debug("classic probe connect failed", zap.Error(err))
		return 0, false
	}
	defer tag.Disconnect()

	if tag.HasMAD() {
		return nfc.TechNDEF, true
	}
	if err := tag.Authenticate(sectorTrailer(int(tag.MADSector())), nfc.DefaultKeyA); err != nil {
		logger.Debug("classic tag has no MAD and rejects the factory key", zap.Error(err))
		return 0, false
	}
	return nfc.TechNdefFormatable, true
}

// normalizeUID maps a freefare UID string to the TagID string form.
func normalizeUID(uid string) string {
	return strings.ToUpper(strings.ReplaceAll(uid, ":", ""))
}

// probeUltralight reads the capability container. A tag without the NDEF
// magic byte is formatable; otherwise the data area size gives the number of
// pages to scan.
func probeUltralight(tag ultralightTag, logger *zap.Logger) (nfc.Technology, int, bool) {
	if err := tag.Connect(); err != nil {
		logger.Debug("ultralight probe connect failed", zap.Error(err))
		return 0, 0, false
	}
	defer tag.Disconnect()

	cc, err := tag.ReadPage(ultralightCCPage)
	if err != nil {
		logger.Debug("ultralight capability container unreadable", zap.Error(err))
		return 0, 0, false
	}
	if cc[0] != ndefMagic {
		return nfc.TechNdefFormatable, 0, true
	}
	return nfc.TechNDEF, ultralightDataPage + int(cc[2])*8/4, true
}
