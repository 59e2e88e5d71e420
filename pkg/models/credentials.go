package models

// CredentialType identifies which protocol a credential set authenticates.
type CredentialType string

const (
	CredentialTypeMikrotik   CredentialType = "mikrotik"
	CredentialTypeSNMP       CredentialType = "snmp"
	CredentialTypePrometheus CredentialType = "prometheus"
	CredentialTypeProxmox    CredentialType = "proxmox"
)

// Credentials is a discriminated union: Type selects which of the embedded
// sections is populated.
type Credentials struct {
	Type       CredentialType         `json:"type"`
	Mikrotik   *MikrotikCredentials   `json:"mikrotik,omitempty"`
	SNMP       *SNMPCredentials       `json:"snmp,omitempty"`
	Prometheus *PrometheusCredentials `json:"prometheus,omitempty"`
	Proxmox    *ProxmoxCredentials    `json:"proxmox,omitempty"`
}

// MikrotikCredentials authenticates against the RouterOS API.
type MikrotikCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	APIPort  int    `json:"api_port,omitempty"` // default 8728
}

// SNMPCredentials covers v1/v2c community auth and v3 authPriv.
type SNMPCredentials struct {
	Version   string `json:"version"` // "v1", "v2c", "v3"
	Port      int    `json:"port,omitempty"`
	Community string `json:"community,omitempty"` // v1/v2c

	// v3 authPriv
	Username      string `json:"username,omitempty"`
	AuthProtocol  string `json:"auth_protocol,omitempty"` // "MD5", "SHA"
	AuthPassword  string `json:"auth_password,omitempty"`
	PrivProtocol  string `json:"priv_protocol,omitempty"` // "DES", "AES"
	PrivPassword  string `json:"priv_password,omitempty"`
	SecurityLevel string `json:"security_level,omitempty"` // "authPriv"
}

// PrometheusCredentials locates a metrics endpoint to scrape.
type PrometheusCredentials struct {
	Port        int    `json:"port,omitempty"` // default 9100
	MetricsPath string `json:"metrics_path,omitempty"`
	Scheme      string `json:"scheme,omitempty"` // "http" or "https"
	BearerToken string `json:"bearer_token,omitempty"`
}

// ProxmoxCredentials authenticates against the Proxmox VE REST API,
// either by API token or by username/password ticket login.
type ProxmoxCredentials struct {
	Port        int    `json:"port,omitempty"` // default 8006
	TokenID     string `json:"token_id,omitempty"`
	TokenSecret string `json:"token_secret,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	Realm       string `json:"realm,omitempty"`
	VerifyTLS   bool   `json:"verify_tls,omitempty"`
}

// CredentialProfile is a named, reusable credential set. The secret material
// is stored encrypted and only decrypted when handed to a probe.
type CredentialProfile struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        CredentialType `json:"type"`
	Credentials *Credentials   `json:"credentials,omitempty"`
}

// CompatibleWith reports whether a credential type can serve a device
// category. generic_ping devices take no credentials at all.
func (t CredentialType) CompatibleWith(dt DeviceType) bool {
	switch dt {
	case DeviceTypeMikrotikRouter, DeviceTypeMikrotikSwitch:
		return t == CredentialTypeMikrotik
	case DeviceTypeGenericSNMP, DeviceTypeAccessPoint:
		return t == CredentialTypeSNMP
	case DeviceTypeServer:
		return t == CredentialTypeSNMP || t == CredentialTypePrometheus
	case DeviceTypeProxmox:
		return t == CredentialTypeProxmox
	case DeviceTypeGenericPing:
		return false
	}
	return false
}
