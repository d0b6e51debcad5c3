package osfp

import (
	"regexp"

	"github.com/juanotejeda/sondare/pkg/models"
)

// candidate entrada de las tablas de evidencia, sin método asignado todavía
type candidate struct {
	name       string
	family     string
	generation string
	accuracy   int
	confidence int
	deviceType string
}

// ttlTable TTL inicial observado → candidatos de familia de SO.
// Tabla estática con precisión/confianza fijas; aproximada por diseño.
var ttlTable = map[int][]candidate{
	32: {
		{name: "Windows 95/98", family: "Windows", generation: "legacy", accuracy: 45, confidence: 40, deviceType: "general-purpose"},
	},
	60: {
		{name: "AIX", family: "Unix", accuracy: 45, confidence: 40, deviceType: "general-purpose"},
		{name: "BSD legado", family: "BSD", accuracy: 40, confidence: 35, deviceType: "general-purpose"},
	},
	64: {
		{name: "Linux", family: "Linux", generation: "kernel 2.4+", accuracy: 70, confidence: 65, deviceType: "general-purpose"},
		{name: "macOS", family: "macOS", accuracy: 55, confidence: 50, deviceType: "general-purpose"},
		{name: "FreeBSD", family: "BSD", accuracy: 50, confidence: 45, deviceType: "general-purpose"},
	},
	128: {
		{name: "Windows 10/11", family: "Windows", generation: "NT 10.0", accuracy: 75, confidence: 70, deviceType: "general-purpose"},
		{name: "Windows Server", family: "Windows", generation: "2016+", accuracy: 65, confidence: 60, deviceType: "server"},
	},
	255: {
		{name: "Cisco IOS", family: "IOS", accuracy: 65, confidence: 60, deviceType: "network-device"},
		{name: "Solaris", family: "Solaris", accuracy: 55, confidence: 50, deviceType: "general-purpose"},
	},
}

// headerRule patrón sobre el banner HTTP → candidato. Lista ordenada:
// por cada puerto web gana la primera regla que matchee.
type headerRule struct {
	pattern   *regexp.Regexp
	candidate candidate
}

var headerRules = []headerRule{
	{regexp.MustCompile(`(?i)Microsoft-IIS/10`), candidate{name: "Windows Server 2016+", family: "Windows", generation: "2016+", accuracy: 80, confidence: 80, deviceType: "server"}},
	{regexp.MustCompile(`(?i)Microsoft-IIS`), candidate{name: "Windows", family: "Windows", accuracy: 75, confidence: 75, deviceType: "server"}},
	{regexp.MustCompile(`(?i)Microsoft-HTTPAPI`), candidate{name: "Windows", family: "Windows", accuracy: 70, confidence: 70, deviceType: "general-purpose"}},
	{regexp.MustCompile(`(?i)\(Win(32|64)\)`), candidate{name: "Windows", family: "Windows", accuracy: 70, confidence: 70, deviceType: "general-purpose"}},
	{regexp.MustCompile(`(?i)Ubuntu`), candidate{name: "Ubuntu Linux", family: "Linux", accuracy: 75, confidence: 75, deviceType: "server"}},
	{regexp.MustCompile(`(?i)Debian`), candidate{name: "Debian GNU/Linux", family: "Linux", accuracy: 75, confidence: 75, deviceType: "server"}},
	{regexp.MustCompile(`(?i)CentOS`), candidate{name: "CentOS Linux", family: "Linux", accuracy: 75, confidence: 75, deviceType: "server"}},
	{regexp.MustCompile(`(?i)Red Hat`), candidate{name: "Red Hat Enterprise Linux", family: "Linux", accuracy: 75, confidence: 75, deviceType: "server"}},
	{regexp.MustCompile(`(?i)FreeBSD`), candidate{name: "FreeBSD", family: "BSD", accuracy: 75, confidence: 75, deviceType: "server"}},
	{regexp.MustCompile(`(?i)\(Unix\)`), candidate{name: "Unix genérico", family: "Unix", accuracy: 50, confidence: 50, deviceType: "general-purpose"}},
	{regexp.MustCompile(`(?i)nginx`), candidate{name: "Linux", family: "Linux", accuracy: 40, confidence: 40, deviceType: "server"}},
	{regexp.MustCompile(`(?i)Apache`), candidate{name: "Linux", family: "Linux", accuracy: 40, confidence: 40, deviceType: "server"}},
}

// serviceHints nombre convencional de servicio → candidato
var serviceHints = map[string]candidate{
	"ms-wbt-server": {name: "Windows", family: "Windows", accuracy: 65, confidence: 65, deviceType: "general-purpose"},
	"microsoft-ds":  {name: "Windows", family: "Windows", accuracy: 60, confidence: 60, deviceType: "general-purpose"},
	"netbios-ssn":   {name: "Windows", family: "Windows", accuracy: 55, confidence: 55, deviceType: "general-purpose"},
	"msrpc":         {name: "Windows", family: "Windows", accuracy: 55, confidence: 55, deviceType: "general-purpose"},
	"ms-sql-s":      {name: "Windows Server", family: "Windows", accuracy: 55, confidence: 55, deviceType: "server"},
	"ssh":           {name: "Linux", family: "Linux", accuracy: 35, confidence: 35, deviceType: "general-purpose"},
	"nfs":           {name: "Linux", family: "Linux", accuracy: 40, confidence: 40, deviceType: "server"},
	"snmp":          {name: "Dispositivo de red", family: "embedded", accuracy: 35, confidence: 30, deviceType: "network-device"},
	"telnet":        {name: "Dispositivo de red", family: "embedded", accuracy: 30, confidence: 30, deviceType: "network-device"},
	"ipp":           {name: "Impresora de red", family: "embedded", accuracy: 40, confidence: 35, deviceType: "printer"},
}

func (c candidate) toModel(method string) models.OSFingerprintCandidate {
	return models.OSFingerprintCandidate{
		Name:                c.name,
		Family:              c.family,
		Generation:          c.generation,
		Accuracy:            models.ClampConfidence(c.accuracy),
		DeviceType:          c.deviceType,
		Confidence:          models.ClampConfidence(c.confidence),
		ContributingMethods: []string{method},
	}
}
