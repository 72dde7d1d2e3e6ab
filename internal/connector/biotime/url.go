package biotime

import (
	"fmt"
	"strings"
)

// httpsPorts are the ports treated as TLS when auto-detecting the
// protocol for a server address.
var httpsPorts = map[int]bool{443: true, 8443: true}

// BuildBaseURL builds the server base URL, auto-detecting the protocol
// from the port: 443 and 8443 are HTTPS, everything else is HTTP.
func BuildBaseURL(serverIP string, serverPort int) string {
	protocol := "http"
	if httpsPorts[serverPort] {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s:%d", protocol, serverIP, serverPort)
}

// BuildURL joins an endpoint path onto the server base URL.
func BuildURL(serverIP string, serverPort int, endpoint string) string {
	base := BuildBaseURL(serverIP, serverPort)
	if endpoint == "" {
		return base
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return base + endpoint
}
