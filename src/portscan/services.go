// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package portscan

var services = map[int]string{
	20:    "FTP-Data",
	21:    "FTP",
	22:    "SSH",
	23:    "Telnet",
	25:    "SMTP",
	53:    "DNS",
	67:    "DHCP",
	69:    "TFTP",
	80:    "HTTP",
	88:    "Kerberos",
	110:   "POP3",
	111:   "RPCBind",
	123:   "NTP",
	135:   "MS-RPC",
	137:   "NetBIOS-NS",
	139:   "NetBIOS-SSN",
	143:   "IMAP",
	161:   "SNMP",
	389:   "LDAP",
	443:   "HTTPS",
	445:   "SMB",
	465:   "SMTPS",
	514:   "Syslog",
	587:   "Submission",
	636:   "LDAPS",
	993:   "IMAPS",
	995:   "POP3S",
	1433:  "MSSQL",
	1434:  "MSSQL-Browser",
	1521:  "Oracle",
	2049:  "NFS",
	3306:  "MySQL",
	3389:  "RDP",
	5432:  "PostgreSQL",
	5900:  "VNC",
	5985:  "WinRM",
	5986:  "WinRM-HTTPS",
	6379:  "Redis",
	8080:  "HTTP-Alt",
	8443:  "HTTPS-Alt",
	9000:  "Portainer",
	9090:  "Prometheus",
	27017: "MongoDB",
}

// ServiceName returns the well-known service on port, or "" when unknown.
func ServiceName(port int) string {
	return services[port]
}

// CommonPorts lists the ports offered as a quick preset on the scan form.
func CommonPorts() []int {
	return []int{21, 22, 23, 25, 53, 80, 110, 135, 139, 143, 443, 445, 993, 995, 1433, 3306, 3389, 5432, 5900, 8080, 8443}
}
