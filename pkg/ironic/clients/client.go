package clients

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/baremetal/httpbasic"
	"github.com/gophercloud/gophercloud/v2/openstack/baremetal/noauth"
)

// TLSConfig configures the transport to Ironic.
type TLSConfig struct {
	TrustedCAFile         string
	ClientCertificateFile string
	ClientPrivateKeyFile  string
	InsecureSkipVerify    bool
}

func updateHTTPClient(client *gophercloud.ServiceClient, tlsConf TLSConfig) (*gophercloud.ServiceClient, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: tlsConf.InsecureSkipVerify, //nolint:gosec
		MinVersion:         tls.VersionTLS12,
	}

	if tlsConf.TrustedCAFile != "" {
		caCert, err := os.ReadFile(tlsConf.TrustedCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %s: %w", tlsConf.TrustedCAFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates found in %s", tlsConf.TrustedCAFile)
		}
		tlsConfig.RootCAs = caCertPool
	}

	if tlsConf.ClientCertificateFile != "" || tlsConf.ClientPrivateKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsConf.ClientCertificateFile, tlsConf.ClientPrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	client.HTTPClient.Transport = &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsConfig,
	}
	return client, nil
}

// IronicClient creates a client for Ironic. The returned client carries
// no microversion; callers pin one per request.
func IronicClient(ironicEndpoint string, auth AuthConfig, tlsConf TLSConfig) (client *gophercloud.ServiceClient, err error) {
	switch auth.Type {
	case NoAuth:
		client, err = noauth.NewBareMetalNoAuth(noauth.EndpointOpts{
			IronicEndpoint: ironicEndpoint,
		})
	case HTTPBasicAuth:
		client, err = httpbasic.NewBareMetalHTTPBasic(httpbasic.EndpointOpts{
			IronicEndpoint:     ironicEndpoint,
			IronicUser:         auth.Username,
			IronicUserPassword: auth.Password,
		})
	default:
		err = fmt.Errorf("unknown auth type %s", auth.Type)
	}
	if err != nil {
		return nil, err
	}

	return updateHTTPClient(client, tlsConf)
}
