package util

import "github.com/google/uuid"

// NewReqID genera un identificador corto para correlacionar peticiones
// en logs y respuestas (primer bloque de un UUID v4).
func NewReqID() string {
	return uuid.NewString()[:8]
}
