// Package osfp infiere candidatos de sistema operativo combinando tres fuentes
// de evidencia indirecta: tabla de TTL, patrones de cabeceras HTTP y pistas por
// nombre de servicio. Todo es heurístico y por tablas estáticas: la superficie
// del sandbox no permite fingerprinting de pila TCP real.
package osfp

import (
	"github.com/sirupsen/logrus"

	"github.com/juanotejeda/sondare/internal/probe"
	"github.com/juanotejeda/sondare/internal/service"
	"github.com/juanotejeda/sondare/pkg/models"
)

// Métodos contribuyentes, tal y como quedan etiquetados en los candidatos
const (
	MethodTTL          = "ttl"
	MethodHTTPHeaders  = "http-headers"
	MethodServiceHints = "service-hints"
)

// MaxCandidates tope de candidatos devueltos
const MaxCandidates = 5

// Engine motor de fingerprint de SO
type Engine struct {
	log *logrus.Logger
}

// NewEngine crea el motor
func NewEngine(log *logrus.Logger) *Engine {
	return &Engine{log: log}
}

// Fingerprint combina las tres fuentes de evidencia y devuelve como mucho
// MaxCandidates candidatos, deduplicados por (nombre, familia) conservando la
// confianza máxima y la unión de métodos, ordenados por confianza descendente.
func (e *Engine) Fingerprint(tgt *models.Target, openPorts []models.PortObservation, discovery []models.DiscoveryObservation) []models.OSFingerprintCandidate {
	var raw []models.OSFingerprintCandidate

	raw = append(raw, e.fromTTL(discovery)...)
	raw = append(raw, e.fromHTTPHeaders(openPorts)...)
	raw = append(raw, e.fromServiceHints(openPorts)...)

	merged := mergeCandidates(raw)
	if len(merged) > MaxCandidates {
		merged = merged[:MaxCandidates]
	}

	if tgt != nil {
		e.log.Debugf("fingerprint de %s: %d candidatos de %d observaciones crudas",
			tgt.Value, len(merged), len(raw))
	}
	return merged
}

// fromTTL fuente 1: lookup del TTL de la primera observación de descubrimiento
// que lo traiga
func (e *Engine) fromTTL(discovery []models.DiscoveryObservation) []models.OSFingerprintCandidate {
	for _, d := range discovery {
		if d.TTL <= 0 {
			continue
		}
		var out []models.OSFingerprintCandidate
		for _, c := range ttlTable[d.TTL] {
			out = append(out, c.toModel(MethodTTL))
		}
		return out
	}
	return nil
}

// fromHTTPHeaders fuente 2: por cada puerto web abierto con banner capturado,
// gana la primera regla de la lista ordenada que matchee
func (e *Engine) fromHTTPHeaders(openPorts []models.PortObservation) []models.OSFingerprintCandidate {
	var out []models.OSFingerprintCandidate
	for _, obs := range openPorts {
		if obs.Status != models.PortOpen || obs.Banner == "" || !probe.IsWebPort(obs.Port) {
			continue
		}
		for _, rule := range headerRules {
			if rule.pattern.MatchString(obs.Banner) {
				out = append(out, rule.candidate.toModel(MethodHTTPHeaders))
				break
			}
		}
	}
	return out
}

// fromServiceHints fuente 3: pistas por el nombre convencional del puerto
func (e *Engine) fromServiceHints(openPorts []models.PortObservation) []models.OSFingerprintCandidate {
	var out []models.OSFingerprintCandidate
	for _, obs := range openPorts {
		if obs.Status != models.PortOpen {
			continue
		}
		name := service.WellKnownServiceName(obs.Port)
		if c, ok := serviceHints[name]; ok {
			out = append(out, c.toModel(MethodServiceHints))
		}
	}
	return out
}

// mergeCandidates deduplica por (nombre, familia): se queda con la confianza y
// precisión máximas y acumula la unión de métodos contribuyentes. La ordenación
// final es por confianza descendente con inserción estable en empates.
func mergeCandidates(raw []models.OSFingerprintCandidate) []models.OSFingerprintCandidate {
	type key struct{ name, family string }
	index := make(map[key]int)
	var merged []models.OSFingerprintCandidate

	for _, c := range raw {
		k := key{c.Name, c.Family}
		if i, ok := index[k]; ok {
			if c.Confidence > merged[i].Confidence {
				merged[i].Confidence = c.Confidence
			}
			if c.Accuracy > merged[i].Accuracy {
				merged[i].Accuracy = c.Accuracy
			}
			if c.Generation != "" && merged[i].Generation == "" {
				merged[i].Generation = c.Generation
			}
			merged[i].ContributingMethods = unionMethods(merged[i].ContributingMethods, c.ContributingMethods)
			continue
		}
		index[k] = len(merged)
		merged = append(merged, c)
	}

	// Inserción ordenada estable en vez de sort: conserva el orden de llegada
	// entre candidatos con la misma confianza
	sorted := make([]models.OSFingerprintCandidate, 0, len(merged))
	for _, c := range merged {
		pos := len(sorted)
		for i, s := range sorted {
			if c.Confidence > s.Confidence {
				pos = i
				break
			}
		}
		sorted = append(sorted[:pos], append([]models.OSFingerprintCandidate{c}, sorted[pos:]...)...)
	}
	return sorted
}

func unionMethods(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string{}, a...)
	for _, m := range a {
		seen[m] = true
	}
	for _, m := range b {
		if !seen[m] {
			out = append(out, m)
			seen[m] = true
		}
	}
	return out
}
