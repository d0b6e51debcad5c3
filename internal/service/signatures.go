// Package service identifica servicios conocidos a partir de puerto y banner
// mediante un registro estático de firmas con scoring de confianza.
package service

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/juanotejeda/sondare/pkg/models"
)

// DefaultSignatures registro de firmas por defecto. El orden de declaración
// define el desempate en el ranking. Inmutable: el matcher lo recibe por
// constructor y nunca lo muta.
var DefaultSignatures = []models.ServiceSignature{
	{
		Name:            "OpenSSH",
		MatchPatterns:   []string{`(?i)SSH-[\d.]+-OpenSSH[_-](\d+\.\d+)`, `(?i)openssh`},
		ApplicablePorts: []int{22, 2222},
		BaseConfidence:  60,
		Category:        "remote-access",
		SecureByDefault: true,
		KnownVersions:   []string{"7.4", "8.2", "8.9", "9.0"},
	},
	{
		Name:            "Dropbear",
		MatchPatterns:   []string{`(?i)SSH-[\d.]+-dropbear[_-]?(\d+\.\d+)?`},
		ApplicablePorts: []int{22, 2222},
		BaseConfidence:  55,
		Category:        "remote-access",
		SecureByDefault: true,
	},
	{
		Name:            "Apache httpd",
		MatchPatterns:   []string{`(?i)Apache/(\d+\.\d+(?:\.\d+)?)`, `(?i)Server: Apache`},
		ApplicablePorts: []int{80, 443, 8080, 8443},
		BaseConfidence:  55,
		Category:        "web",
		SecureByDefault: false,
		KnownVersions:   []string{"2.2", "2.4"},
	},
	{
		Name:            "nginx",
		MatchPatterns:   []string{`(?i)nginx/(\d+\.\d+(?:\.\d+)?)`, `(?i)Server: nginx`},
		ApplicablePorts: []int{80, 443, 8080, 8443},
		BaseConfidence:  55,
		Category:        "web",
		SecureByDefault: false,
		KnownVersions:   []string{"1.18", "1.22", "1.24"},
	},
	{
		Name:            "Microsoft IIS",
		MatchPatterns:   []string{`(?i)Microsoft-IIS/(\d+\.\d+)`, `(?i)Microsoft-HTTPAPI`},
		ApplicablePorts: []int{80, 443, 8080},
		BaseConfidence:  60,
		Category:        "web",
		SecureByDefault: false,
		KnownVersions:   []string{"8.5", "10.0"},
	},
	{
		Name:            "MySQL",
		MatchPatterns:   []string{`(?i)(\d+\.\d+\.\d+)-MariaDB`, `mysql_native_password`, `(?i)mysql`},
		ApplicablePorts: []int{3306, 33060},
		BaseConfidence:  55,
		Category:        "database",
		SecureByDefault: false,
	},
	{
		Name:            "PostgreSQL",
		MatchPatterns:   []string{`(?i)postgres`, `(?i)FATAL.*no pg_hba`},
		ApplicablePorts: []int{5432},
		BaseConfidence:  55,
		Category:        "database",
		SecureByDefault: false,
	},
	{
		Name:            "Redis",
		MatchPatterns:   []string{`(?i)-ERR unknown command`, `(?i)redis_version:(\d+\.\d+\.\d+)?`, `(?i)-DENIED Redis`},
		ApplicablePorts: []int{6379},
		BaseConfidence:  60,
		Category:        "cache",
		SecureByDefault: false,
	},
	{
		Name:            "MongoDB",
		MatchPatterns:   []string{`(?i)mongodb`, `(?i)It looks like you are trying to access MongoDB`},
		ApplicablePorts: []int{27017},
		BaseConfidence:  55,
		Category:        "database",
		SecureByDefault: false,
	},
	{
		Name:            "Memcached",
		MatchPatterns:   []string{`(?i)ERROR\r?\n`, `(?i)memcached`},
		ApplicablePorts: []int{11211},
		BaseConfidence:  45,
		Category:        "cache",
		SecureByDefault: false,
	},
	{
		Name:            "Elasticsearch",
		MatchPatterns:   []string{`(?i)"cluster_name"`, `(?i)elasticsearch`},
		ApplicablePorts: []int{9200, 9300},
		BaseConfidence:  55,
		Category:        "database",
		SecureByDefault: false,
	},
	{
		Name:            "vsftpd",
		MatchPatterns:   []string{`(?i)220.*vsFTPd (\d+\.\d+(?:\.\d+)?)`, `(?i)vsftpd`},
		ApplicablePorts: []int{21},
		BaseConfidence:  60,
		Category:        "file-transfer",
		SecureByDefault: false,
		KnownVersions:   []string{"2.3.4", "3.0.3"},
	},
	{
		Name:            "ProFTPD",
		MatchPatterns:   []string{`(?i)220.*ProFTPD (\d+\.\d+(?:\.\d+)?)`, `(?i)proftpd`},
		ApplicablePorts: []int{21},
		BaseConfidence:  60,
		Category:        "file-transfer",
		SecureByDefault: false,
	},
	{
		Name:            "Postfix",
		MatchPatterns:   []string{`(?i)220.*Postfix`, `(?i)ESMTP Postfix`},
		ApplicablePorts: []int{25, 587},
		BaseConfidence:  55,
		Category:        "mail",
		SecureByDefault: false,
	},
	{
		Name:            "Exim",
		MatchPatterns:   []string{`(?i)220.*Exim (\d+\.\d+)?`},
		ApplicablePorts: []int{25, 587},
		BaseConfidence:  55,
		Category:        "mail",
		SecureByDefault: false,
	},
	{
		Name:            "Dovecot",
		MatchPatterns:   []string{`(?i)Dovecot`, `(?i)\* OK .*IMAP`},
		ApplicablePorts: []int{110, 143, 993, 995},
		BaseConfidence:  50,
		Category:        "mail",
		SecureByDefault: true,
	},
	{
		Name:            "Microsoft RDP",
		MatchPatterns:   []string{`(?i)ms-wbt`, `(?i)rdp`},
		ApplicablePorts: []int{3389},
		BaseConfidence:  50,
		Category:        "remote-access",
		SecureByDefault: false,
	},
	{
		Name:            "Samba smbd",
		MatchPatterns:   []string{`(?i)samba`, `(?i)smb`},
		ApplicablePorts: []int{139, 445},
		BaseConfidence:  45,
		Category:        "file-sharing",
		SecureByDefault: false,
	},
	{
		Name:            "Telnet",
		MatchPatterns:   []string{`(?i)login:`, `(?i)telnet`},
		ApplicablePorts: []int{23},
		BaseConfidence:  40,
		Category:        "remote-access",
		SecureByDefault: false,
	},
	{
		Name:            "VNC",
		MatchPatterns:   []string{`(?i)RFB (\d+\.\d+)`},
		ApplicablePorts: []int{5900, 5901},
		BaseConfidence:  60,
		Category:        "remote-access",
		SecureByDefault: false,
	},
	{
		Name:            "Microsoft SQL Server",
		MatchPatterns:   []string{`(?i)mssql`, `(?i)sql server`},
		ApplicablePorts: []int{1433},
		BaseConfidence:  50,
		Category:        "database",
		SecureByDefault: false,
	},
}

// wellKnownPorts tabla estática puerto→nombre para el fallback genérico
var wellKnownPorts = map[int]string{
	20: "ftp-data", 21: "ftp", 22: "ssh", 23: "telnet", 25: "smtp",
	53: "dns", 80: "http", 110: "pop3", 111: "rpcbind", 135: "msrpc",
	139: "netbios-ssn", 143: "imap", 161: "snmp", 389: "ldap", 443: "https",
	445: "microsoft-ds", 465: "smtps", 514: "syslog", 587: "submission",
	631: "ipp", 636: "ldaps", 873: "rsync", 993: "imaps", 995: "pop3s",
	1080: "socks", 1433: "ms-sql-s", 1521: "oracle", 2049: "nfs",
	2375: "docker", 3000: "http-alt", 3128: "squid-http", 3306: "mysql",
	3389: "ms-wbt-server", 5000: "http-alt", 5432: "postgresql",
	5900: "vnc", 5984: "couchdb", 6379: "redis", 8000: "http-alt",
	8080: "http-proxy", 8443: "https-alt", 8888: "http-alt",
	9000: "cslistener", 9090: "websm", 9200: "elasticsearch",
	11211: "memcached", 27017: "mongod",
}

// WellKnownServiceName nombre convencional de un puerto, "unknown" si no consta
func WellKnownServiceName(port int) string {
	if name, ok := wellKnownPorts[port]; ok {
		return name
	}
	return "unknown"
}

// LoadSignatureFile carga firmas adicionales desde un YAML. Se concatenan
// detrás de las de por defecto, así el desempate sigue favoreciendo al registro base.
func LoadSignatureFile(path string) ([]models.ServiceSignature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error leyendo fichero de firmas: %w", err)
	}
	var sigs []models.ServiceSignature
	if err := yaml.Unmarshal(data, &sigs); err != nil {
		return nil, fmt.Errorf("error parseando firmas YAML: %w", err)
	}
	return sigs, nil
}
