package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/term"
)

const (
	defaultEndpoint = "http://127.0.0.1:8480"
	defaultIssuer   = "doughd"
	defaultTTL      = 15 * time.Minute
	secretEnv       = "DOUGHD_JWT_SECRET"
)

// profile is the on-disk operator profile.
type profile struct {
	Endpoint string `toml:"Endpoint"`
	Address  string `toml:"Address"`
	Role     string `toml:"Role"`
	Issuer   string `toml:"Issuer"`
	TokenTTL string `toml:"TokenTTL"`
	// Token, when set, is sent as-is and no secret is needed.
	Token string `toml:"Token"`
}

func defaultProfilePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".doughctl.toml"
	}
	return filepath.Join(home, ".doughctl.toml")
}

// loadProfile reads path. A missing file yields the defaults.
func loadProfile(path string) (profile, error) {
	p := profile{}
	if path != "" {
		if _, err := toml.DecodeFile(path, &p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return p, fmt.Errorf("read profile %s: %w", path, err)
		}
	}
	if strings.TrimSpace(p.Endpoint) == "" {
		p.Endpoint = defaultEndpoint
	}
	if strings.TrimSpace(p.Issuer) == "" {
		p.Issuer = defaultIssuer
	}
	if strings.TrimSpace(p.Role) == "" {
		p.Role = "user"
	}
	return p, nil
}

func (p profile) ttl() (time.Duration, error) {
	if strings.TrimSpace(p.TokenTTL) == "" {
		return defaultTTL, nil
	}
	d, err := time.ParseDuration(p.TokenTTL)
	if err != nil {
		return 0, fmt.Errorf("profile TokenTTL: %w", err)
	}
	return d, nil
}

func writeProfile(path string, p profile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(p)
}

// secretSource resolves the signing secret from the environment or by
// prompting once on the terminal.
type secretSource struct {
	envVar string

	once  sync.Once
	value string
	err   error
}

var promptSecret = func() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("signing secret required; set %s or run interactively", secretEnv)
	}
	fmt.Fprint(os.Stderr, "Enter doughd signing secret: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(raw), nil
}

func (s *secretSource) Get() (string, error) {
	s.once.Do(func() {
		if value, ok := os.LookupEnv(s.envVar); ok {
			s.value = value
		} else {
			s.value, s.err = promptSecret()
		}
		if s.err == nil && strings.TrimSpace(s.value) == "" {
			s.err = errors.New("signing secret cannot be empty")
		}
	})
	return s.value, s.err
}
