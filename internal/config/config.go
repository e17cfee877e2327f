// Package config reads the burrow YAML configuration file, writing one with
// default values when it does not exist yet.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/die-net/burrow/internal/logger"
)

type Echo struct {
	Listen   string `yaml:"listen"`
	Prefix   string `yaml:"prefix"`
	Suffix   string `yaml:"suffix"`
	MaxConns int    `yaml:"max_conns"`
}

type Client struct {
	// Proxy is a dialer URL such as socks5://127.0.0.1:1080.
	Proxy string `yaml:"proxy"`
	// Dest is the tunnel destination host:port.
	Dest string `yaml:"dest"`
	// DNSServer, when set, resolves SOCKS destinations against this server
	// instead of the system resolver.
	DNSServer          string        `yaml:"dns_server"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	SettleDelay        time.Duration `yaml:"settle_delay"`
	// CacheTTL caches resolved destinations. Zero disables the cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	MaxConns int           `yaml:"max_conns"`
}

type File struct {
	Log    logger.Config `yaml:"log"`
	Echo   Echo          `yaml:"echo"`
	Client Client        `yaml:"client"`
}

func Default() *File {
	return &File{
		Log: logger.Default(),
		Echo: Echo{
			Listen:   "0.0.0.0:1337",
			MaxConns: 128,
		},
		Client: Client{
			Proxy:              "socks5://127.0.0.1:1080",
			Dest:               "127.0.0.1:1337",
			DialTimeout:        10 * time.Second,
			NegotiationTimeout: 10 * time.Second,
			SettleDelay:        100 * time.Millisecond,
			CacheTTL:           5 * time.Minute,
			MaxConns:           128,
		},
	}
}

// Load reads path. Fields missing from the file keep their default values.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults. Unknown keys are an error.
func Parse(data []byte) (*File, error) {
	f := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	return f, nil
}

// LoadOrCreate loads path, or writes the defaults there when it does not
// exist. created reports whether the file was written.
func LoadOrCreate(path string) (f *File, created bool, err error) {
	f, err = Load(path)
	if err == nil {
		return f, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	f = Default()
	if err := f.Save(path); err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// Save writes f to path as YAML, creating parent directories.
func (f *File) Save(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
