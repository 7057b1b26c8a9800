package fdpass

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Topes del layout fijo de WorkerRequest.
const (
	MaxRuntimeLen = 32
	MaxModuleLen  = 256
	MaxHandlerLen = 128
	MaxBodyLen    = 4096

	// RequestSize es el tamaño serializado: campos NUL-padded más el
	// largo explícito del cuerpo (little-endian).
	RequestSize = MaxRuntimeLen + MaxModuleLen + MaxHandlerLen + MaxBodyLen + 4
)

// WorkerRequest es la metadata que acompaña al descriptor del cliente
// en el handoff. El layout en el wire es fijo; emisor y receptor deben
// coincidir byte a byte (little-endian, local al host).
type WorkerRequest struct {
	Runtime string
	Module  string
	Handler string
	Body    []byte
}

// Marshal serializa con truncado a los topes; el cuerpo lleva su largo
// explícito.
func (r *WorkerRequest) Marshal() []byte {
	b := make([]byte, RequestSize)
	copyCapped(b[0:MaxRuntimeLen], r.Runtime)
	copyCapped(b[MaxRuntimeLen:MaxRuntimeLen+MaxModuleLen], r.Module)
	copyCapped(b[MaxRuntimeLen+MaxModuleLen:MaxRuntimeLen+MaxModuleLen+MaxHandlerLen], r.Handler)

	body := r.Body
	if len(body) > MaxBodyLen {
		body = body[:MaxBodyLen]
	}
	off := MaxRuntimeLen + MaxModuleLen + MaxHandlerLen
	copy(b[off:off+MaxBodyLen], body)
	binary.LittleEndian.PutUint32(b[off+MaxBodyLen:], uint32(len(body)))
	return b
}

// UnmarshalRequest reconstruye la metadata; un tamaño o body_len fuera
// de rango es fallo de protocolo.
func UnmarshalRequest(b []byte) (WorkerRequest, error) {
	var r WorkerRequest
	if len(b) != RequestSize {
		return r, errors.Errorf("worker request: %d bytes, want %d", len(b), RequestSize)
	}
	r.Runtime = cut(b[0:MaxRuntimeLen])
	r.Module = cut(b[MaxRuntimeLen : MaxRuntimeLen+MaxModuleLen])
	r.Handler = cut(b[MaxRuntimeLen+MaxModuleLen : MaxRuntimeLen+MaxModuleLen+MaxHandlerLen])

	off := MaxRuntimeLen + MaxModuleLen + MaxHandlerLen
	n := binary.LittleEndian.Uint32(b[off+MaxBodyLen:])
	if n > MaxBodyLen {
		return r, errors.Errorf("worker request: body_len %d over cap", n)
	}
	if n > 0 {
		r.Body = make([]byte, n)
		copy(r.Body, b[off:off+int(n)])
	}
	return r, nil
}

// copyCapped copia s truncado dejando al menos un NUL final.
func copyCapped(dst []byte, s string) {
	if len(s) >= len(dst) {
		s = s[:len(dst)-1]
	}
	copy(dst, s)
}

// cut corta en el primer NUL.
func cut(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
