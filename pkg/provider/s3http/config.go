// Package s3http reads table files from S3-compatible storage without the
// AWS SDK. Each call becomes a sigv4.Request signed with the wall clock and
// executed on a transport.Client.
package s3http

import (
	"net/url"
	"strings"
)

// DefaultRegion is used when Config.Region is empty.
const DefaultRegion = "us-east-1"

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// Config configures a Provider.
type Config struct {
	// Bucket is the bucket name (required).
	Bucket string

	// Endpoint is the base URL of the store, e.g. http://localhost:9000.
	// Empty means AWS S3 in Region over https.
	Endpoint string

	// Region is the signing region. Default: us-east-1.
	Region string

	// AccessKeyID and SecretAccessKey are required; this backend has no
	// credential chain.
	AccessKeyID     string
	SecretAccessKey string

	// SessionToken is sent as x-amz-security-token when set.
	SessionToken string

	// ForcePathStyle puts the bucket in the path instead of the host name.
	ForcePathStyle bool

	// MaxKeys is the default page size for List operations.
	MaxKeys int
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "access key ID and secret access key are required",
		}
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return &ConfigError{Field: "Endpoint", Message: "endpoint must be an http or https URL"}
		}
	}
	return nil
}

func (c *Config) region() string {
	if c.Region == "" {
		return DefaultRegion
	}
	return c.Region
}

// endpoint returns the scheme and host requests are sent to.
func (c *Config) endpoint() (scheme, host string) {
	if c.Endpoint == "" {
		return "https", "s3." + c.region() + ".amazonaws.com"
	}
	u, _ := url.Parse(c.Endpoint)
	return u.Scheme, strings.TrimSuffix(u.Host, "/")
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3http config: " + e.Field + ": " + e.Message
}
