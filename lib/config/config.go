// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/regmonitor/lib/ref"
	"github.com/bureau-foundation/regmonitor/lib/sealed"
	"github.com/bureau-foundation/regmonitor/lib/secret"
)

// EnvironmentVariable names the config file for Load.
const EnvironmentVariable = "REGMONITOR_CONFIG"

// Defaults applied when the file leaves a field unset.
const (
	DefaultReason         = "Account suspended pending review"
	DefaultRequestTimeout = 30 * time.Second
	DefaultListenAddress  = "127.0.0.1:9810"
)

// File is the on-disk shape of the configuration. Booleans are pointers
// so that an absent key can take its default while an explicit false is
// honored.
type File struct {
	// NotificationRoom is the room new accounts are joined to. Required.
	NotificationRoom string `yaml:"notification_room" json:"notification_room"`

	// SuspendUsers enables suspending every new account. Default: true.
	SuspendUsers *bool `yaml:"suspend_users" json:"suspend_users"`

	// ForceJoinRoom joins accounts even when they were just suspended.
	// It has no effect on accounts that were not suspended, which are
	// always joined. Default: true.
	ForceJoinRoom *bool `yaml:"force_join_room" json:"force_join_room"`

	// AdminUser is the operator identity, used in logs and notices.
	AdminUser string `yaml:"admin_user" json:"admin_user"`

	// ServerName qualifies bare usernames in attempt notices. Default:
	// the server of AdminUser, else the homeserver URL's host.
	ServerName string `yaml:"server_name" json:"server_name"`

	// Reason is sent with each suspension. Default: DefaultReason.
	Reason string `yaml:"reason" json:"reason"`

	// AdminToken is the admin API bearer token, inline. Exactly one of
	// AdminToken and AdminTokenFile must be set.
	AdminToken string `yaml:"admin_token" json:"admin_token"`

	// AdminTokenFile holds the admin token. When AdminTokenIdentityFile
	// is also set, the file is base64 age ciphertext (see lib/sealed).
	AdminTokenFile         string `yaml:"admin_token_file" json:"admin_token_file"`
	AdminTokenIdentityFile string `yaml:"admin_token_identity_file" json:"admin_token_identity_file"`

	// HomeserverURL is the base URL of the homeserver. Required.
	HomeserverURL string `yaml:"homeserver_url" json:"homeserver_url"`

	// RequestTimeout bounds every admin API call ("30s", "1m").
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`

	// ListenAddress is the hook listener. Default: DefaultListenAddress.
	ListenAddress string `yaml:"listen_address" json:"listen_address"`

	// HookSecretFile holds the HMAC key host shims sign hook requests
	// with. Empty disables signature checks (loopback deployments).
	HookSecretFile string `yaml:"hook_secret_file" json:"hook_secret_file"`

	// NotifyRoom receives notices. Default: NotificationRoom.
	NotifyRoom string `yaml:"notify_room" json:"notify_room"`

	// NotifyAttempts posts a notice for every registration attempt.
	NotifyAttempts bool `yaml:"notify_attempts" json:"notify_attempts"`

	// NotifyOutcomes posts a confirmation notice after each handled
	// registration. Default: true.
	NotifyOutcomes *bool `yaml:"notify_outcomes" json:"notify_outcomes"`

	// VerifyMembership looks up room membership after a join is
	// rejected with 403, so a user already in the room is not reported
	// as a failure. Default: true.
	VerifyMembership *bool `yaml:"verify_membership" json:"verify_membership"`
}

// Config is the validated configuration. Nothing mutates it after Load.
type Config struct {
	NotificationRoom ref.RoomID
	SuspendUsers     bool
	ForceJoinRoom    bool
	AdminUser        ref.UserID
	ServerName       string
	Reason           string
	HomeserverURL    string
	RequestTimeout   time.Duration
	ListenAddress    string
	HookSecretFile   string
	NotifyRoom       ref.RoomID
	NotifyAttempts   bool
	NotifyOutcomes   bool
	VerifyMembership bool

	adminToken *secret.Buffer
}

// AdminToken returns the protected admin token. The buffer is owned by
// the Config and released by Close.
func (c *Config) AdminToken() *secret.Buffer {
	return c.adminToken
}

// Close releases the admin token memory. Idempotent.
func (c *Config) Close() error {
	if c.adminToken != nil {
		return c.adminToken.Close()
	}
	return nil
}

// Load reads the file named by REGMONITOR_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, &Error{Err: fmt.Errorf("%s environment variable not set; "+
			"set it to the path of the config file, or use --config", EnvironmentVariable)}
	}
	return LoadFile(path)
}

// LoadFile reads, validates, and resolves the config file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	file, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	config, err := New(file)
	if err != nil {
		var configErr *Error
		if errors.As(err, &configErr) {
			configErr.Path = path
			return nil, configErr
		}
		return nil, &Error{Path: path, Err: err}
	}
	return config, nil
}

// Parse decodes config file contents. extension selects the format:
// ".json" and ".jsonc" are JSON with comments, anything else is YAML.
func Parse(data []byte, extension string) (*File, error) {
	var file File
	switch strings.ToLower(extension) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	}
	return &file, nil
}

// New validates file, applies defaults, and loads the admin token. All
// validation failures are reported together in one *Error.
func New(file *File) (*Config, error) {
	file.expandVariables()

	if err := file.Validate(); err != nil {
		return nil, &Error{Err: err}
	}

	config := &Config{
		SuspendUsers:   boolOrDefault(file.SuspendUsers, true),
		ForceJoinRoom:  boolOrDefault(file.ForceJoinRoom, true),
		Reason:         file.Reason,
		HomeserverURL:  strings.TrimRight(file.HomeserverURL, "/"),
		RequestTimeout: DefaultRequestTimeout,
		ListenAddress:  file.ListenAddress,
		HookSecretFile: file.HookSecretFile,
		NotifyAttempts: file.NotifyAttempts,
		NotifyOutcomes: boolOrDefault(file.NotifyOutcomes, true),

		VerifyMembership: boolOrDefault(file.VerifyMembership, true),
	}
	if config.Reason == "" {
		config.Reason = DefaultReason
	}
	if config.ListenAddress == "" {
		config.ListenAddress = DefaultListenAddress
	}
	if file.RequestTimeout != "" {
		// Validate already checked the format.
		config.RequestTimeout, _ = time.ParseDuration(file.RequestTimeout)
	}

	config.NotificationRoom, _ = ref.ParseRoomID(file.NotificationRoom)
	config.NotifyRoom = config.NotificationRoom
	if file.NotifyRoom != "" {
		config.NotifyRoom, _ = ref.ParseRoomID(file.NotifyRoom)
	}
	if file.AdminUser != "" {
		config.AdminUser, _ = ref.ParseUserID(file.AdminUser)
	}
	config.ServerName = file.ServerName
	if config.ServerName == "" && !config.AdminUser.IsZero() {
		config.ServerName = config.AdminUser.Server()
	}
	if config.ServerName == "" {
		if parsed, err := url.Parse(config.HomeserverURL); err == nil {
			config.ServerName = parsed.Hostname()
		}
	}

	token, err := file.loadAdminToken()
	if err != nil {
		return nil, &Error{Err: err}
	}
	config.adminToken = token
	return config, nil
}

// Validate checks every field and returns ozzo validation.Errors keyed
// by config key.
func (f *File) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.NotificationRoom, validation.Required, validation.By(roomIDRule)),
		validation.Field(&f.HomeserverURL, validation.Required, validation.By(httpURLRule)),
		validation.Field(&f.AdminToken, validation.By(f.adminTokenRule)),
		validation.Field(&f.AdminTokenIdentityFile, validation.By(f.identityFileRule)),
		validation.Field(&f.AdminUser, validation.By(userIDRule)),
		validation.Field(&f.NotifyRoom, validation.By(roomIDRule)),
		validation.Field(&f.RequestTimeout, validation.By(durationRule)),
		validation.Field(&f.Reason, validation.Length(0, 1000)),
	)
}

func (f *File) adminTokenRule(value interface{}) error {
	token, _ := value.(string)
	switch {
	case token == "" && f.AdminTokenFile == "":
		return fmt.Errorf("cannot be blank (set admin_token or admin_token_file)")
	case token != "" && f.AdminTokenFile != "":
		return fmt.Errorf("admin_token and admin_token_file are mutually exclusive")
	}
	return nil
}

func (f *File) identityFileRule(value interface{}) error {
	identity, _ := value.(string)
	if identity != "" && f.AdminTokenFile == "" {
		return fmt.Errorf("requires admin_token_file")
	}
	return nil
}

func (f *File) loadAdminToken() (*secret.Buffer, error) {
	switch {
	case f.AdminToken != "":
		token, err := secret.NewFromString(strings.TrimSpace(f.AdminToken))
		if err != nil {
			return nil, fmt.Errorf("protecting admin_token: %w", err)
		}
		return token, nil
	case f.AdminTokenIdentityFile != "":
		token, err := sealed.OpenFile(f.AdminTokenFile, f.AdminTokenIdentityFile)
		if err != nil {
			return nil, fmt.Errorf("admin_token_file: %w", err)
		}
		return token, nil
	default:
		token, err := secret.ReadFile(f.AdminTokenFile)
		if err != nil {
			return nil, fmt.Errorf("admin_token_file: %w", err)
		}
		return token, nil
	}
}

func roomIDRule(value interface{}) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	_, err := ref.ParseRoomID(raw)
	return err
}

func userIDRule(value interface{}) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	_, err := ref.ParseUserID(raw)
	return err
}

func httpURLRule(value interface{}) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("must be an http or https URL, got %q", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

func durationRule(value interface{}) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	if duration <= 0 {
		return fmt.Errorf("must be positive, got %s", raw)
	}
	return nil
}

func boolOrDefault(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields so
// credential paths can follow systemd's $CREDENTIALS_DIRECTORY.
func (f *File) expandVariables() {
	f.AdminTokenFile = expandVars(f.AdminTokenFile)
	f.AdminTokenIdentityFile = expandVars(f.AdminTokenIdentityFile)
	f.HookSecretFile = expandVars(f.HookSecretFile)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}
