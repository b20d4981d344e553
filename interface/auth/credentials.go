package auth

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/cdse-dl/service"
	"github.com/bgentry/go-netrc/netrc"
)

// Environment variables holding the credentials
const (
	EnvUsername = "CDSE_USERNAME"
	EnvPassword = "CDSE_PASSWORD"
)

// NetrcMachine is the machine looked up in the .netrc file
const NetrcMachine = "identity.dataspace.copernicus.eu"

// Credentials of a CDSE account. Immutable once created.
type Credentials struct {
	username string
	password string
}

// NewCredentials returns a ConfigError if username or password is empty
func NewCredentials(username, password string) (Credentials, error) {
	if username == "" || password == "" {
		return Credentials{}, &service.ConfigError{Msg: "username and password must be provided"}
	}
	return Credentials{username: username, password: password}, nil
}

// CredentialsFromEnv reads CDSE_USERNAME and CDSE_PASSWORD
func CredentialsFromEnv() (Credentials, error) {
	username, password := os.Getenv(EnvUsername), os.Getenv(EnvPassword)
	if username == "" || password == "" {
		return Credentials{}, &service.ConfigError{Msg: fmt.Sprintf("%s and %s must be set", EnvUsername, EnvPassword)}
	}
	return NewCredentials(username, password)
}

// NetrcPath returns $NETRC or ~/.netrc
func NetrcPath() string {
	if p := os.Getenv("NETRC"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".netrc"
	}
	return filepath.Join(home, ".netrc")
}

// CredentialsFromNetrc reads the login and password of machine identity.dataspace.copernicus.eu in the netrc file (NetrcPath() if path is empty)
func CredentialsFromNetrc(path string) (Credentials, error) {
	if path == "" {
		path = NetrcPath()
	}
	m, err := netrc.FindMachine(path, NetrcMachine)
	if err != nil {
		return Credentials{}, &service.ConfigError{Msg: fmt.Sprintf("cannot read %s: %v", path, err)}
	}
	if m == nil || m.IsDefault() {
		return Credentials{}, &service.ConfigError{Msg: fmt.Sprintf("machine %s not found in %s", NetrcMachine, path)}
	}
	return NewCredentials(m.Login, m.Password)
}

// FindCredentials tries the explicit credentials, then the environment, then the netrc file
func FindCredentials(username, password string) (Credentials, error) {
	if username != "" || password != "" {
		return NewCredentials(username, password)
	}
	if creds, err := CredentialsFromEnv(); err == nil {
		return creds, nil
	}
	if creds, err := CredentialsFromNetrc(""); err == nil {
		return creds, nil
	}
	return Credentials{}, &service.ConfigError{Msg: fmt.Sprintf("no credentials found: provide them explicitly, with %s/%s or in %s", EnvUsername, EnvPassword, NetrcPath())}
}

// Username returns the login of the account
func (c Credentials) Username() string {
	return c.username
}

func (c Credentials) String() string {
	return c.username + ":********"
}
