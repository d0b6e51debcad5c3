package service

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/juanotejeda/sondare/pkg/models"
)

// Puntos de score del matcher
const (
	portMatchScore    = 30
	genericConfidence = 50
	genericCategory   = "generic"
)

// compiledSignature firma con sus patrones precompilados
type compiledSignature struct {
	sig      models.ServiceSignature
	patterns []*regexp.Regexp
}

// Matcher registro inmutable de firmas compiladas
type Matcher struct {
	log        *logrus.Logger
	signatures []compiledSignature
}

// NewMatcher compila el registro una vez al arrancar. Una firma con un patrón
// inválido se registra y se omite en vez de tumbar el arranque.
func NewMatcher(log *logrus.Logger, sigs []models.ServiceSignature) *Matcher {
	m := &Matcher{log: log}
	for _, sig := range sigs {
		cs := compiledSignature{sig: sig}
		valid := true
		for _, p := range sig.MatchPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				log.Warnf("firma %s: patrón inválido %q: %v", sig.Name, p, err)
				valid = false
				break
			}
			cs.patterns = append(cs.patterns, re)
		}
		if valid {
			m.signatures = append(m.signatures, cs)
		}
	}
	return m
}

// Match puntúa todas las firmas contra (puerto, banner) y devuelve los
// servicios candidatos ordenados por confianza descendente, con desempate
// estable por orden de declaración. Si nada puntúa se devuelve el resultado
// genérico de la tabla de puertos conocidos con confianza fija de 50.
func (m *Matcher) Match(port int, banner string) []models.DetectedService {
	type scored struct {
		cs    compiledSignature
		score int
	}
	var candidates []scored

	for _, cs := range m.signatures {
		score := 0
		if containsPort(cs.sig.ApplicablePorts, port) {
			score += portMatchScore
		}
		if banner != "" && matchesAny(cs.patterns, banner) {
			score += cs.sig.BaseConfidence
		}
		if score > 0 {
			candidates = append(candidates, scored{cs: cs, score: score})
		}
	}

	if len(candidates) == 0 {
		return []models.DetectedService{{
			Port:       port,
			Protocol:   "tcp",
			Name:       WellKnownServiceName(port),
			Confidence: genericConfidence,
			Category:   genericCategory,
		}}
	}

	// SliceStable conserva el orden de declaración del registro en empates
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	results := make([]models.DetectedService, 0, len(candidates))
	for rank, c := range candidates {
		svc := models.DetectedService{
			Port:       port,
			Protocol:   "tcp",
			Name:       c.cs.sig.Name,
			Confidence: models.ClampConfidence(c.score),
			Category:   c.cs.sig.Category,
			Secure:     c.cs.sig.SecureByDefault,
		}
		// Solo la firma mejor puntuada re-aplica sus patrones para extraer versión
		if rank == 0 && banner != "" {
			svc.Version, svc.ExtractedInfo = extractVersion(c.cs, banner)
			if svc.Version != "" {
				svc.Product = fmt.Sprintf("%s %s", c.cs.sig.Name, svc.Version)
			}
		}
		results = append(results, svc)
	}
	return results
}

// DetectServices identifica el mejor candidato por cada puerto abierto y le
// adjunta las anotaciones de riesgo por nombre de servicio
func (m *Matcher) DetectServices(openPorts []models.PortObservation) []models.DetectedService {
	var services []models.DetectedService
	for _, obs := range openPorts {
		if obs.Status != models.PortOpen {
			continue
		}
		ranked := m.Match(obs.Port, obs.Banner)
		best := ranked[0]
		best.Protocol = obs.Protocol
		best.Advisories = AdvisoriesFor(best.Name)
		services = append(services, best)
		m.log.Debugf("puerto %d identificado como %s (confianza %d)", obs.Port, best.Name, best.Confidence)
	}
	return services
}

// extractVersion re-aplica los patrones de la firma ganadora buscando el
// primer grupo de captura con contenido
func extractVersion(cs compiledSignature, banner string) (string, map[string]string) {
	for _, re := range cs.patterns {
		m := re.FindStringSubmatch(banner)
		if len(m) > 1 && m[1] != "" {
			info := map[string]string{"match": m[0]}
			return m[1], info
		}
	}
	return "", nil
}

func containsPort(ports []int, port int) bool {
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}

func matchesAny(patterns []*regexp.Regexp, banner string) bool {
	for _, re := range patterns {
		if re.MatchString(banner) {
			return true
		}
	}
	return false
}
