package metrics

// Weights son los pesos del score: score = α·cpu + β·mem + γ·io.
// Menor score = worker menos cargado.
type Weights struct {
	Alpha float64
	Beta  float64
	Gamma float64
}

// Score calcula el score ponderado sobre valores ya normalizados.
func (w Weights) Score(cpu, mem, io float64) float64 {
	return w.Alpha*cpu + w.Beta*mem + w.Gamma*io
}

// Normalize lleva x a [0,100] respecto de max: clamp(100·x/max, 0, 100).
func Normalize(x, max float64) float64 {
	if max <= 0 {
		return 0
	}
	n := x / max * 100
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// Smoother aplica normalización + EMA por magnitud. λ pesa la historia:
// s' = λ·s + (1−λ)·x; la primera muestra pasa sin suavizar.
type Smoother struct {
	lambda      float64
	maxCPU      float64
	maxMem      float64
	maxIO       float64
	cpu         float64
	mem         float64
	io          float64
	initialized bool
}

// NewSmoother crea el suavizador con λ y los topes de normalización.
func NewSmoother(lambda, maxCPU, maxMem, maxIO float64) *Smoother {
	return &Smoother{lambda: lambda, maxCPU: maxCPU, maxMem: maxMem, maxIO: maxIO}
}

// Update ingiere una muestra cruda y devuelve los tres valores
// suavizados y normalizados.
func (s *Smoother) Update(cpuRaw, memRawMB, ioRaw float64) (cpu, mem, io float64) {
	cpuN := Normalize(cpuRaw, s.maxCPU)
	memN := Normalize(memRawMB, s.maxMem)
	ioN := Normalize(ioRaw, s.maxIO)

	if !s.initialized {
		s.cpu, s.mem, s.io = cpuN, memN, ioN
		s.initialized = true
	} else {
		s.cpu = s.lambda*s.cpu + (1-s.lambda)*cpuN
		s.mem = s.lambda*s.mem + (1-s.lambda)*memN
		s.io = s.lambda*s.io + (1-s.lambda)*ioN
	}
	return s.cpu, s.mem, s.io
}
