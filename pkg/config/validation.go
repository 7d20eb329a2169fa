package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/gorods/internal/bytesize"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags, then the cross-field rules tags cannot
// express. It does not modify cfg.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return fmt.Errorf("telemetry.profiling.endpoint is required when profiling is enabled")
	}

	if err := cfg.Transfer.Validate(); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	return validateTransport(&cfg.Transport, cfg.Transfer.PartSize)
}

// minS3PartSize keeps every range of a parallel put above the 5MiB S3
// minimum: ranges are never shorter than half the part size.
const minS3PartSize = 10 * bytesize.MiB

// maxS3PartSize is the largest part S3 accepts.
const maxS3PartSize = 5 * bytesize.GiB

func validateTransport(cfg *TransportConfig, partSize bytesize.ByteSize) error {
	switch cfg.Type {
	case TransportFS:
		if cfg.FS.Root == "" {
			return fmt.Errorf("transport.fs.root is required for the fs transport")
		}
	case TransportS3:
		if cfg.S3.Bucket == "" {
			return fmt.Errorf("transport.s3.bucket is required for the s3 transport")
		}
		if (cfg.S3.AccessKeyID == "") != (cfg.S3.SecretAccessKey == "") {
			return fmt.Errorf("transport.s3.access_key_id and secret_access_key must be set together")
		}
		if partSize < minS3PartSize {
			return fmt.Errorf("transfer.part_size must be at least %s for the s3 transport (got %s)",
				minS3PartSize, partSize)
		}
		if ups := cfg.S3.UploadPartSize; ups < minS3PartSize || ups > maxS3PartSize {
			return fmt.Errorf("transport.s3.upload_part_size must be between %s and %s (got %s)",
				minS3PartSize, maxS3PartSize, ups)
		}
	case TransportBadger:
		if !cfg.Badger.InMemory && cfg.Badger.Dir == "" {
			return fmt.Errorf("transport.badger.dir is required unless in_memory is set")
		}
	}
	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
