package metrics

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Ticks de reloj por segundo para /proc/self/stat (USER_HZ).
const clkTck = 100

var procBase = time.Now()

// NowMillis devuelve milisegundos de un reloj monótono de proceso.
// Nunca devuelve 0: 0 está reservado para "sin muestra".
func NowMillis() uint64 {
	ms := time.Since(procBase).Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return uint64(ms)
}

// Reader muestrea CPU, RSS y tasa de I/O del proceso actual desde
// /proc. Guarda el último muestreo por magnitud: la primera lectura de
// CPU e I/O devuelve 0 porque no hay delta contra qué comparar.
type Reader struct {
	lastTicks  uint64
	lastCPUAt  uint64
	lastRead   uint64
	lastWrite  uint64
	lastIOAt   uint64
	statPath   string
	statusPath string
	ioPath     string
}

// NewReader crea un lector sobre /proc/self.
func NewReader() *Reader {
	return &Reader{
		statPath:   "/proc/self/stat",
		statusPath: "/proc/self/status",
		ioPath:     "/proc/self/io",
	}
}

// CPUPercent devuelve el % de CPU desde la muestra anterior:
// 100·Δticks·1000 / (clkTck·Δms).
func (r *Reader) CPUPercent() float64 {
	b, err := os.ReadFile(r.statPath)
	if err != nil {
		return 0
	}
	// los campos vienen después del último ')' (comm puede traer espacios)
	s := string(b)
	i := strings.LastIndexByte(s, ')')
	if i < 0 {
		return 0
	}
	fields := strings.Fields(s[i+1:])
	// fields[0]=state ... fields[11]=utime fields[12]=stime
	if len(fields) < 13 {
		return 0
	}
	utime, _ := strconv.ParseUint(fields[11], 10, 64)
	stime, _ := strconv.ParseUint(fields[12], 10, 64)
	ticks := utime + stime
	now := NowMillis()

	var pct float64
	if r.lastCPUAt > 0 && now > r.lastCPUAt {
		dTicks := ticks - r.lastTicks
		dMs := now - r.lastCPUAt
		pct = 100 * float64(dTicks) * 1000 / (clkTck * float64(dMs))
	}
	r.lastTicks = ticks
	r.lastCPUAt = now
	return pct
}

// MemoryMB devuelve el RSS en MiB según VmRSS.
func (r *Reader) MemoryMB() float64 {
	b, err := os.ReadFile(r.statusPath)
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(b), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		f := strings.Fields(line[6:])
		if len(f) == 0 {
			return 0
		}
		kb, _ := strconv.ParseUint(f[0], 10, 64)
		return float64(kb) / 1024
	}
	return 0
}

// IORateKBs devuelve KiB/s de (read_bytes+write_bytes) desde la muestra
// anterior. Si /proc/self/io no es legible (permisos) devuelve 0 sin
// ruido.
func (r *Reader) IORateKBs() float64 {
	b, err := os.ReadFile(r.ioPath)
	if err != nil {
		return 0
	}
	var rd, wr uint64
	for _, line := range strings.Split(string(b), "\n") {
		switch {
		case strings.HasPrefix(line, "read_bytes:"):
			rd, _ = strconv.ParseUint(strings.TrimSpace(line[11:]), 10, 64)
		case strings.HasPrefix(line, "write_bytes:"):
			wr, _ = strconv.ParseUint(strings.TrimSpace(line[12:]), 10, 64)
		}
	}
	now := NowMillis()

	var rate float64
	if r.lastIOAt > 0 && now > r.lastIOAt {
		delta := (rd - r.lastRead) + (wr - r.lastWrite)
		rate = float64(delta) / 1024 / (float64(now-r.lastIOAt) / 1000)
	}
	r.lastRead = rd
	r.lastWrite = wr
	r.lastIOAt = now
	return rate
}
