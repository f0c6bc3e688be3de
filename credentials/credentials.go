// Package credentials loads provider API keys from standard locations.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"

	aerr "github.com/vinayprograms/admitkit/errors"
)

// FileName is the credentials file looked up in each standard directory.
const FileName = "credentials.toml"

// ErrInsecurePermissions is returned when the credentials file is readable
// or writable by group or others.
var ErrInsecurePermissions = errors.New("credentials file has insecure permissions")

// Credentials holds API keys keyed by provider section, e.g.
//
//	[anthropic]
//	api_key = "..."
//
// A [llm] section supplies a fallback key for any provider.
type Credentials struct {
	fallback  string
	providers map[string]string
}

// StandardPaths returns the credential file locations in priority order.
func StandardPaths() []string {
	paths := []string{FileName}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "admitkit", FileName),
			filepath.Join(home, ".admitkit", FileName),
		)
	}
	return paths
}

// Load loads credentials from the first standard location that exists.
// A missing file is not an error: it returns nil credentials and "".
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadFile(path)
			return creds, path, err
		}
	}
	return nil, "", nil
}

// LoadFile loads credentials from path. On Unix the file must not grant
// any group or other permission bits.
func LoadFile(path string) (*Credentials, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, aerr.WrapWithCode(err, aerr.CodeConfiguration, "read credentials")
	}
	if runtime.GOOS != "windows" {
		if mode := info.Mode().Perm(); mode&0o077 != 0 {
			return nil, aerr.New(aerr.CodeConfiguration,
				fmt.Sprintf("%s has mode %04o, must be owner-only", path, mode),
				aerr.WithCause(ErrInsecurePermissions))
		}
	}

	var raw map[string]map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, aerr.WrapWithCode(err, aerr.CodeConfiguration, "parse credentials")
	}

	creds := &Credentials{providers: make(map[string]string)}
	for section, values := range raw {
		key, _ := values["api_key"].(string)
		if key == "" {
			continue
		}
		if section == "llm" {
			creds.fallback = key
			continue
		}
		creds.providers[normalize(section)] = key
	}
	return creds, nil
}

// APIKey returns the key for provider.
// Priority: [provider] section, then [llm] section, then the environment.
func (c *Credentials) APIKey(provider string) string {
	if c != nil {
		if key := c.providers[normalize(provider)]; key != "" {
			return key
		}
		if c.fallback != "" {
			return c.fallback
		}
	}
	return os.Getenv(EnvVar(provider))
}

// EnvVar returns the environment variable consulted for provider's key.
func EnvVar(provider string) string {
	switch normalize(provider) {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	default:
		return strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
	}
}

func normalize(provider string) string {
	return strings.ToLower(strings.ReplaceAll(provider, "-", ""))
}
