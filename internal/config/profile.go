package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnreadable is returned when a profile file exists but cannot be decoded.
var ErrUnreadable = errors.New("profile file is unreadable")

// Profile is the subset of user data kept between runs.
//
// The SMTP password is stored base64-encoded on disk. That is obfuscation
// only: anyone who can read the file can recover the password.
type Profile struct {
	FullName       string     `json:"full_name"`
	PrimaryCountry string     `json:"primary_country"`
	SMTP           SMTPConfig `json:"smtp"`
}

type SMTPConfig struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Server   string `json:"server"`
	Port     int    `json:"port"`
}

// HasCredentials reports whether enough is saved to send mail without asking.
func (c SMTPConfig) HasCredentials() bool {
	return c.Email != "" && c.Password != ""
}

func Obfuscate(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func Deobfuscate(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("failed to decode password: %w", err)
	}
	return string(b), nil
}

// LoadProfile reads the saved profile. A missing file is not an error and
// yields an empty profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Profile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	if err := checkFilePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if p.SMTP.Password != "" {
		pw, err := Deobfuscate(p.SMTP.Password)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		p.SMTP.Password = pw
	}
	return &p, nil
}

func SaveProfile(path string, p *Profile) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create profile directory: %w", err)
		}
	}

	stored := *p
	if stored.SMTP.Password != "" {
		stored.SMTP.Password = Obfuscate(stored.SMTP.Password)
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize profile: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// ClearProfile deletes the saved profile. removed is false when there was
// nothing to delete.
func ClearProfile(path string) (removed bool, err error) {
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete profile: %w", err)
	}
	return true, nil
}

var smtpProviders = map[string]struct {
	server string
	port   int
	imap   string
}{
	"gmail.com":   {"smtp.gmail.com", 465, "imap.gmail.com"},
	"outlook.com": {"smtp.office365.com", 587, "outlook.office365.com"},
}

// SMTPDefaultsFor suggests a server and port for a sender address.
func SMTPDefaultsFor(address string) (server string, port int) {
	domain := strings.ToLower(address[strings.LastIndex(address, "@")+1:])
	if p, ok := smtpProviders[domain]; ok {
		return p.server, p.port
	}
	return "", 587
}

// IMAPServerFor suggests an IMAP server for a mail address, or "" when the
// provider is unknown.
func IMAPServerFor(address string) string {
	domain := strings.ToLower(address[strings.LastIndex(address, "@")+1:])
	return smtpProviders[domain].imap
}
