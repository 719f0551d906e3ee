package clients

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
)

// AuthType is the method of authenticating requests to the server
type AuthType string

const (
	// NoAuth uses no authentication
	NoAuth AuthType = "noauth"
	// HTTPBasicAuth uses HTTP Basic Authentication
	HTTPBasicAuth AuthType = "http_basic"
)

// AuthConfig holds the credentials used to talk to Ironic.
type AuthConfig struct {
	Type     AuthType
	Username string
	Password string
}

// LoadAuth reads HTTP basic credentials from <authRoot>/ironic/username
// and <authRoot>/ironic/password. A missing directory means no
// authentication.
func LoadAuth(authRoot string) (auth AuthConfig, err error) {
	if authRoot == "" {
		auth.Type = NoAuth
		return
	}
	authPath := path.Join(authRoot, "ironic")

	if _, err = os.Stat(authPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			auth.Type = NoAuth
			err = nil
		}
		return
	}

	auth.Type = HTTPBasicAuth
	username, err := os.ReadFile(path.Join(authPath, "username"))
	if err != nil {
		return
	}
	auth.Username = strings.TrimSpace(string(username))
	password, err := os.ReadFile(path.Join(authPath, "password"))
	if err != nil {
		return
	}
	auth.Password = strings.TrimSpace(string(password))

	err = auth.Validate()
	return
}

// Validate checks that the credentials are usable for the auth type.
func (a AuthConfig) Validate() error {
	switch a.Type {
	case NoAuth:
		return nil
	case HTTPBasicAuth:
		if a.Username == "" {
			return errors.New("empty HTTP Basic Auth username")
		}
		if a.Password == "" {
			return errors.New("empty HTTP Basic Auth password")
		}
		return nil
	default:
		return fmt.Errorf("unknown auth type %q, set to %s or %s", a.Type, NoAuth, HTTPBasicAuth)
	}
}

// ConfigFromEndpointURL splits credentials embedded in an endpoint URL
// from the endpoint itself.
func ConfigFromEndpointURL(endpointURL string) (ironicURL string, auth AuthConfig, err error) {
	parsedURL, err := url.Parse(endpointURL)
	if err != nil {
		return
	}

	if parsedURL.User != nil {
		var hasPassword bool
		auth.Type = HTTPBasicAuth
		auth.Username = parsedURL.User.Username()
		auth.Password, hasPassword = parsedURL.User.Password()
		if !hasPassword {
			err = errors.New("no password supplied for HTTP Basic Auth to Ironic")
		}
		parsedURL.User = nil
	} else {
		auth.Type = NoAuth
	}

	ironicURL = parsedURL.String()
	return
}
