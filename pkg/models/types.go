package models

import (
	"errors"
	"time"
)

// Errores de control de flujo del engine. Los fallos por item (probe, script)
// nunca se propagan como error: se convierten en resultados estructurados.
var (
	ErrInvalidTarget        = errors.New("formato de target inválido")
	ErrScriptAlreadyRunning = errors.New("script ya en ejecución")
)

// TargetType clasificación del target de entrada
type TargetType string

const (
	TargetIP       TargetType = "ip"
	TargetCIDR     TargetType = "cidr"
	TargetRange    TargetType = "range"
	TargetHostname TargetType = "hostname"
)

// Target target clasificado por el parser (sin I/O)
type Target struct {
	Type  TargetType `json:"type"`
	Value string     `json:"value"`
}

// PortStatus veredicto de un probe
type PortStatus string

const (
	PortOpen     PortStatus = "open"
	PortClosed   PortStatus = "closed"
	PortFiltered PortStatus = "filtered"
	PortTimeout  PortStatus = "timeout"
)

// ScanType técnica de escaneo solicitada. Todo lo que no sea "connect"
// degrada a connect dentro del sandbox (se registra en el log, nunca se oculta).
type ScanType string

const (
	ScanConnect ScanType = "connect"
	ScanSYN     ScanType = "syn"
	ScanFIN     ScanType = "fin"
	ScanNull    ScanType = "null"
	ScanXmas    ScanType = "xmas"
	ScanACK     ScanType = "ack"
)

// ProbeTarget un intento de probe contra host:puerto. Inmutable.
type ProbeTarget struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

// PortObservation resultado de un probe. Una por (escaneo, puerto), nunca se muta.
type PortObservation struct {
	Port       int        `json:"port"`
	Protocol   string     `json:"protocol"`
	Status     PortStatus `json:"status"`
	Banner     string     `json:"banner,omitempty"`
	LatencyMs  int64      `json:"latency_ms"`
	ObservedAt time.Time  `json:"observed_at"`
}

// DiscoveryObservation resultado de descubrimiento de un host. Una por (escaneo, host).
type DiscoveryObservation struct {
	IP         string    `json:"ip"`
	Hostname   string    `json:"hostname,omitempty"`
	Method     string    `json:"method"`
	LatencyMs  int64     `json:"latency_ms"`
	TTL        int       `json:"ttl,omitempty"`
	IsAlive    bool      `json:"is_alive"`
	ObservedAt time.Time `json:"observed_at"`
}

// ServiceSignature firma estática de un servicio conocido. Datos de referencia inmutables.
type ServiceSignature struct {
	Name            string   `json:"name" yaml:"name"`
	MatchPatterns   []string `json:"match_patterns" yaml:"match_patterns"`
	ApplicablePorts []int    `json:"applicable_ports" yaml:"applicable_ports"`
	BaseConfidence  int      `json:"base_confidence" yaml:"base_confidence"`
	Category        string   `json:"category" yaml:"category"`
	SecureByDefault bool     `json:"secure_by_default" yaml:"secure_by_default"`
	KnownVersions   []string `json:"known_versions,omitempty" yaml:"known_versions,omitempty"`
}

// DetectedService servicio identificado sobre un puerto
type DetectedService struct {
	Port          int               `json:"port"`
	Protocol      string            `json:"protocol"`
	Name          string            `json:"name"`
	Product       string            `json:"product,omitempty"`
	Version       string            `json:"version,omitempty"`
	Confidence    int               `json:"confidence"`
	Category      string            `json:"category"`
	Secure        bool              `json:"secure"`
	ExtractedInfo map[string]string `json:"extracted_info,omitempty"`
	Advisories    []Advisory        `json:"advisories,omitempty"`
}

// Advisory anotación de riesgo para un servicio detectado. El match es por
// nombre de firma, no por rango de versiones (simplificación deliberada).
type Advisory struct {
	Service     string `json:"service"`
	Risk        string `json:"risk"` // critical, high, medium, low
	Description string `json:"description"`
}

// OSFingerprintCandidate candidato de sistema operativo. Se mergea por (Name, Family)
// conservando la confianza máxima y la unión de métodos.
type OSFingerprintCandidate struct {
	Name                string   `json:"name"`
	Family              string   `json:"family"`
	Generation          string   `json:"generation,omitempty"`
	Accuracy            int      `json:"accuracy"`
	DeviceType          string   `json:"device_type"`
	Confidence          int      `json:"confidence"`
	ContributingMethods []string `json:"contributing_methods"`
}

// FirewallAnalysis veredicto sintetizado de presencia de firewall
type FirewallAnalysis struct {
	Detected           bool     `json:"detected"`
	Type               string   `json:"type,omitempty"` // proxy, stateful, packet-filter, unknown
	Confidence         int      `json:"confidence"`
	Indicators         []string `json:"indicators"`
	AvgResponseTimeMs  float64  `json:"avg_response_time_ms"`
	ResponseVarianceMs float64  `json:"response_variance_ms"`
	RateLimitDetected  bool     `json:"rate_limit_detected"`
	FilteredPortCount  int      `json:"filtered_port_count"`
	Recommendations    []string `json:"recommendations"`
}

// Severity severidad de un hallazgo de script
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ScriptState estado final de una ejecución de script
type ScriptState string

const (
	ScriptSuccess  ScriptState = "success"
	ScriptError    ScriptState = "error"
	ScriptTimeout  ScriptState = "timeout"
	ScriptFiltered ScriptState = "filtered"
)

// ScriptResult resultado de un work item de script
type ScriptResult struct {
	ScriptID   string      `json:"script_id"`
	Host       string      `json:"host"`
	Port       int         `json:"port,omitempty"`
	Output     string      `json:"output"`
	Severity   Severity    `json:"severity"`
	DurationMs int64       `json:"duration_ms"`
	Findings   []string    `json:"findings,omitempty"`
	State      ScriptState `json:"state"`
}

// ScanRun resultado agregado de una corrida completa. Lo consume la capa externa
// de reporting/persistencia; el engine no lo persiste.
type ScanRun struct {
	ID           string                   `json:"id"`
	Target       string                   `json:"target"`
	StartTime    time.Time                `json:"start_time"`
	EndTime      time.Time                `json:"end_time"`
	Hosts        []DiscoveryObservation   `json:"hosts,omitempty"`
	Ports        []PortObservation        `json:"ports"`
	Services     []DetectedService        `json:"services,omitempty"`
	Fingerprints []OSFingerprintCandidate `json:"fingerprints,omitempty"`
	Firewall     *FirewallAnalysis        `json:"firewall,omitempty"`
	Scripts      []ScriptResult           `json:"scripts,omitempty"`
}

// ClampConfidence limita un valor de confianza/precisión a [0,100]
func ClampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
