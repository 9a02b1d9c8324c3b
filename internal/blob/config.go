package blob

import (
	"fmt"
	"time"

	"github.com/openmined/kbsync/internal/utils"
)

const DefaultPresignExpiry = time.Hour

type S3Config struct {
	BucketName    string        `mapstructure:"bucket_name"`
	Region        string        `mapstructure:"region"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	Endpoint      string        `mapstructure:"endpoint"`
	UseAccelerate bool          `mapstructure:"use_accelerate"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

// Validate checks the connection settings. Credentials may be left empty, in
// which case the default AWS credential chain is used.
func (c *S3Config) Validate() error {
	if c.BucketName == "" {
		return fmt.Errorf("bucket_name required")
	}
	if c.Region == "" {
		return fmt.Errorf("region required")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return fmt.Errorf("access_key and secret_key must be set together")
	}
	if c.Endpoint != "" && !utils.IsValidURL(c.Endpoint) {
		return fmt.Errorf("%w %q", ErrInvalidEndpoint, c.Endpoint)
	}
	if c.PresignExpiry < 0 {
		return fmt.Errorf("presign_expiry must not be negative")
	}
	return nil
}
