package metrics

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Telemetry es el registro que cada worker emite al colector. El layout
// en el socket es fijo, little-endian, con campos de tamaño explícito;
// emisor y colector deben coincidir byte a byte.
//
//	pid       int32
//	worker_id int32
//	cpu, mem, io, score float32  (suavizados, 0..100)
//	requests, errors    uint32   (acumulados)
//	timestamp uint64             (ms monótonos; 0 = sin muestra)
//	status    [32]byte           (idle|busy|overloaded, NUL-padded)
type Telemetry struct {
	Pid       int32
	WorkerID  int32
	CPU       float32
	Mem       float32
	IO        float32
	Score     float32
	Requests  uint32
	Errors    uint32
	Timestamp uint64
	Status    [32]byte
}

// TelemetrySize es el tamaño del datagrama (72 bytes).
const TelemetrySize = 4 + 4 + 16 + 8 + 8 + 32

const (
	StatusIdle       = "idle"
	StatusBusy       = "busy"
	StatusOverloaded = "overloaded"
)

// SetStatus copia la etiqueta al campo fijo (truncada, NUL-padded).
func (t *Telemetry) SetStatus(s string) {
	t.Status = [32]byte{}
	copy(t.Status[:31], s)
}

// StatusString devuelve la etiqueta sin el padding.
func (t *Telemetry) StatusString() string {
	for i, b := range t.Status {
		if b == 0 {
			return string(t.Status[:i])
		}
	}
	return string(t.Status[:])
}

// Marshal serializa el registro en su layout de wire.
func (t *Telemetry) Marshal() []byte {
	b := make([]byte, TelemetrySize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], uint32(t.Pid))
	le.PutUint32(b[4:], uint32(t.WorkerID))
	le.PutUint32(b[8:], math.Float32bits(t.CPU))
	le.PutUint32(b[12:], math.Float32bits(t.Mem))
	le.PutUint32(b[16:], math.Float32bits(t.IO))
	le.PutUint32(b[20:], math.Float32bits(t.Score))
	le.PutUint32(b[24:], t.Requests)
	le.PutUint32(b[28:], t.Errors)
	le.PutUint64(b[32:], t.Timestamp)
	copy(b[40:], t.Status[:])
	return b
}

// UnmarshalTelemetry reconstruye un registro desde un datagrama. Un
// tamaño distinto al del layout es un datagrama malformado.
func UnmarshalTelemetry(b []byte) (Telemetry, error) {
	var t Telemetry
	if len(b) != TelemetrySize {
		return t, errors.Errorf("telemetry datagram: %d bytes, want %d", len(b), TelemetrySize)
	}
	le := binary.LittleEndian
	t.Pid = int32(le.Uint32(b[0:]))
	t.WorkerID = int32(le.Uint32(b[4:]))
	t.CPU = math.Float32frombits(le.Uint32(b[8:]))
	t.Mem = math.Float32frombits(le.Uint32(b[12:]))
	t.IO = math.Float32frombits(le.Uint32(b[16:]))
	t.Score = math.Float32frombits(le.Uint32(b[20:]))
	t.Requests = le.Uint32(b[24:])
	t.Errors = le.Uint32(b[28:])
	t.Timestamp = le.Uint64(b[32:])
	copy(t.Status[:], b[40:])
	return t, nil
}
