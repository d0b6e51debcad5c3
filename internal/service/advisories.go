package service

import "github.com/juanotejeda/sondare/pkg/models"

// advisoryTable anotaciones de riesgo por nombre de firma. El lookup es por
// nombre de servicio detectado, no por rango de versiones: el match por
// versión queda fuera del alcance y se deja anotado como simplificación.
var advisoryTable = map[string][]models.Advisory{
	"OpenSSH": {
		{Service: "OpenSSH", Risk: "high", Description: "SSH - Acceso remoto. Usar claves en lugar de contraseñas"},
	},
	"Dropbear": {
		{Service: "Dropbear", Risk: "high", Description: "SSH embebido - Verificar versión, históricamente con CVEs de auth"},
	},
	"Telnet": {
		{Service: "Telnet", Risk: "critical", Description: "Telnet - Protocolo sin cifrado. Reemplazar por SSH"},
	},
	"MySQL": {
		{Service: "MySQL", Risk: "critical", Description: "MySQL - Base de datos expuesta. DEBE estar restringido"},
	},
	"PostgreSQL": {
		{Service: "PostgreSQL", Risk: "critical", Description: "PostgreSQL - Base de datos expuesta. DEBE estar restringido"},
	},
	"MongoDB": {
		{Service: "MongoDB", Risk: "critical", Description: "MongoDB - Base de datos sin autenticación por defecto"},
	},
	"Redis": {
		{Service: "Redis", Risk: "critical", Description: "Redis - Cache sin autenticación. Datos expuestos"},
	},
	"Memcached": {
		{Service: "Memcached", Risk: "high", Description: "Memcached - Sin autenticación, usado en ataques de amplificación"},
	},
	"Elasticsearch": {
		{Service: "Elasticsearch", Risk: "critical", Description: "Elasticsearch - Búsqueda expuesta. Datos sensibles en riesgo"},
	},
	"Microsoft SQL Server": {
		{Service: "Microsoft SQL Server", Risk: "critical", Description: "MSSQL - Base de datos expuesta. Restringir a la red interna"},
	},
	"Microsoft RDP": {
		{Service: "Microsoft RDP", Risk: "high", Description: "RDP - Acceso remoto Windows. Fuerte objetivo de ataques"},
	},
	"Samba smbd": {
		{Service: "Samba smbd", Risk: "high", Description: "SMB - Compartición de archivos. Riesgo de ransomware"},
	},
	"vsftpd": {
		{Service: "vsftpd", Risk: "high", Description: "FTP - Transferencia sin cifrado. Usar SFTP"},
	},
	"ProFTPD": {
		{Service: "ProFTPD", Risk: "high", Description: "FTP - Transferencia sin cifrado. Usar SFTP"},
	},
	"VNC": {
		{Service: "VNC", Risk: "high", Description: "VNC - Escritorio remoto, a menudo con contraseñas débiles"},
	},
	"Apache httpd": {
		{Service: "Apache httpd", Risk: "medium", Description: "HTTP - Verificar versión y módulos expuestos"},
	},
	"nginx": {
		{Service: "nginx", Risk: "medium", Description: "HTTP - Verificar versión y configuración de proxy"},
	},
	"Microsoft IIS": {
		{Service: "Microsoft IIS", Risk: "medium", Description: "IIS - Verificar parches y métodos HTTP habilitados"},
	},
	"Postfix": {
		{Service: "Postfix", Risk: "medium", Description: "SMTP - Verificar que no sea open relay"},
	},
	"Exim": {
		{Service: "Exim", Risk: "high", Description: "SMTP - Exim con historial de RCEs. Verificar versión"},
	},
}

// AdvisoriesFor devuelve las anotaciones para un servicio detectado
func AdvisoriesFor(serviceName string) []models.Advisory {
	return advisoryTable[serviceName]
}

// RiskLabel etiqueta legible del nivel de riesgo
func RiskLabel(risk string) string {
	switch risk {
	case "critical":
		return "🔴 CRÍTICO"
	case "high":
		return "🟠 ALTO"
	case "medium":
		return "🟡 MEDIO"
	case "low":
		return "🟢 BAJO"
	default:
		return "⚪ DESCONOCIDO"
	}
}
