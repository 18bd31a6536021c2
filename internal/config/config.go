package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the filesystem layout and download endpoints shared by the
// bootstrap binaries.
type Config struct {
	// ReleaseDomain is the DNS domain serving per-channel release buckets,
	// e.g. "stable.<domain>". Empty disables channel downloads, leaving
	// only the cache mirror.
	ReleaseDomain string `yaml:"release_domain"`
	// CacheURL is the base URL of the fallback image mirror.
	CacheURL string `yaml:"cache_url"`
	// OEMDir is the image store on the OEM partition.
	OEMDir string `yaml:"oem_dir"`
	// RootDir is the image store on the root partition.
	RootDir string `yaml:"root_dir"`
	// SymlinkDir is the directory of active-image symlinks consumed by the
	// extension loader.
	SymlinkDir string `yaml:"symlink_dir"`
	// OEMReleaseFile is the KEY=VALUE file identifying the OEM flavor.
	OEMReleaseFile string `yaml:"oem_release_file"`
	// EnabledFile lists extension names to keep synchronized, one per line.
	EnabledFile string `yaml:"enabled_file"`
	// InstallerPath is the trusted binary carrying the image signing key.
	InstallerPath string `yaml:"installer_path"`
	// GPGPath is the signature verification binary.
	GPGPath string `yaml:"gpg_path"`
	// NetworkUpCommand is run once before the first download of a boot,
	// e.g. to start network services. Empty skips the hook.
	NetworkUpCommand string `yaml:"network_up_command"`
}

const (
	// DefaultConfigPath is where the bootstrap settings live on the host.
	DefaultConfigPath = "/etc/sysext-bootstrap.yaml"

	// DefaultReleaseDomain serves the per-channel release buckets.
	DefaultReleaseDomain = "release.bootengine.dev"

	// DefaultCacheURL is the fallback image mirror.
	DefaultCacheURL = "https://cache.bootengine.dev/images"

	// DefaultOEMDir is the image store on the OEM partition.
	DefaultOEMDir = "/oem/sysext"

	// DefaultRootDir is the image store on the root partition.
	DefaultRootDir = "/var/lib/sysext"

	// DefaultSymlinkDir is read by the extension loader at activation.
	DefaultSymlinkDir = "/etc/extensions"

	// DefaultOEMReleaseFile identifies the OEM flavor of the machine.
	DefaultOEMReleaseFile = "/oem/oem-release"

	// DefaultEnabledFile lists the optional extensions to keep in sync.
	DefaultEnabledFile = "/etc/sysext/enabled.conf"

	// DefaultInstallerPath is the trusted binary the signing key is
	// extracted from.
	DefaultInstallerPath = "/usr/bin/os-install"

	// DefaultGPGPath resolves the verification binary via PATH.
	DefaultGPGPath = "gpg"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errStoreDirsRequired is returned when an image store directory is missing.
	errStoreDirsRequired = errors.New("image store directories must be provided")
	// errSymlinkDirRequired is returned when the symlink directory is missing.
	errSymlinkDirRequired = errors.New("symlink directory must be provided")
	// errInvalidReleaseDomain is returned when the release domain is not a bare host.
	errInvalidReleaseDomain = errors.New("release domain must be a bare DNS domain")
)

// Default returns the baked-in settings used when no file overrides them.
func Default() *Config {
	return &Config{
		ReleaseDomain:  DefaultReleaseDomain,
		CacheURL:       DefaultCacheURL,
		OEMDir:         DefaultOEMDir,
		RootDir:        DefaultRootDir,
		SymlinkDir:     DefaultSymlinkDir,
		OEMReleaseFile: DefaultOEMReleaseFile,
		EnabledFile:    DefaultEnabledFile,
		InstallerPath:  DefaultInstallerPath,
		GPGPath:        DefaultGPGPath,
	}
}

// Load reads configuration from the provided path and validates essential
// fields. File values override the baked-in defaults. When no path is
// given and no file exists at DefaultConfigPath, the defaults are used as
// is: hosts without a dropped-in settings file boot on them.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	cfg := Default()

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, Validate(cfg)
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err = yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and formatting.
// Empty endpoints are allowed: a host whose images are already placed never
// needs a download source, the fetcher reports the gap when one is needed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.OEMDir == "" || cfg.RootDir == "" {
		return errStoreDirsRequired
	}

	if cfg.SymlinkDir == "" {
		return errSymlinkDirRequired
	}

	// Set default verification binary if not specified.
	if cfg.GPGPath == "" {
		cfg.GPGPath = DefaultGPGPath
	}

	if cfg.ReleaseDomain != "" && strings.ContainsAny(cfg.ReleaseDomain, "/:@ ") {
		return fmt.Errorf("%q: %w", cfg.ReleaseDomain, errInvalidReleaseDomain)
	}

	if cfg.CacheURL == "" {
		return nil
	}

	if _, err := url.ParseRequestURI(cfg.CacheURL); err != nil {
		return fmt.Errorf("invalid cache URL: %w", err)
	}

	return nil
}

// MigrationManifest returns the one-shot migration manifest location for an
// OEM id. The manifest lives next to the images it cleans up after.
func (c *Config) MigrationManifest(oemID string) string {
	return filepath.Join(c.OEMDir, "migrate-"+oemID+".conf")
}
