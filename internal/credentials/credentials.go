package credentials

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
)

// Credentials holds the AWS key pair used by the S3 provenance store
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

// NewCredentials creates an empty credentials instance
func NewCredentials() *Credentials {
	return &Credentials{}
}

// LoadFromPasswdFile loads credentials from an s3fs style passwd file.
// Each non-comment line is either ACCESS_KEY:SECRET_KEY or
// BUCKET:ACCESS_KEY:SECRET_KEY. A line naming bucket wins over an
// unscoped one. The file must not be readable by group or others.
func (c *Credentials) LoadFromPasswdFile(path string, bucket string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to read passwd file: %w", err)
	}
	if info.Mode().Perm()&0077 != 0 {
		return fmt.Errorf("passwd file %s must not be accessible by group or others (mode %#o)", path, info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read passwd file: %w", err)
	}

	var unscoped, scoped []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		switch len(parts) {
		case 2:
			if unscoped == nil {
				unscoped = parts
			}
		case 3:
			if bucket != "" && parts[0] == bucket && scoped == nil {
				scoped = parts[1:]
			}
		default:
			return fmt.Errorf("invalid passwd file format at line %d, expected [BUCKET:]ACCESS_KEY:SECRET_KEY", lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read passwd file: %w", err)
	}

	pair := scoped
	if pair == nil {
		pair = unscoped
	}
	if pair == nil {
		return fmt.Errorf("passwd file %s has no credentials for bucket %q", path, bucket)
	}

	c.AccessKeyID = strings.TrimSpace(pair[0])
	c.SecretAccessKey = strings.TrimSpace(pair[1])
	return nil
}

// LoadFromEnvironment loads credentials from the standard AWS
// environment variables
func (c *Credentials) LoadFromEnvironment() error {
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")

	if accessKey == "" || secretKey == "" {
		return fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
	}

	c.AccessKeyID = accessKey
	c.SecretAccessKey = secretKey
	c.SessionToken = os.Getenv("AWS_SESSION_TOKEN")
	if region := os.Getenv("AWS_REGION"); region != "" {
		c.Region = region
	}
	return nil
}

// IsValid checks if credentials are valid (both access key and secret are set)
func (c *Credentials) IsValid() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Resolve loads credentials for bucket from passwdFile when one is
// given, otherwise from the environment
func Resolve(passwdFile, bucket string) (*Credentials, error) {
	creds := NewCredentials()
	if passwdFile != "" {
		if err := creds.LoadFromPasswdFile(passwdFile, bucket); err != nil {
			return nil, err
		}
		return creds, nil
	}
	if err := creds.LoadFromEnvironment(); err != nil {
		return nil, fmt.Errorf("no S3 credentials: %w", err)
	}
	return creds, nil
}
