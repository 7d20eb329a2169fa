package config

import "github.com/marmos91/gorods/internal/bytesize"

// Transport types.
const (
	TransportMemory = "memory"
	TransportFS     = "fs"
	TransportS3     = "s3"
	TransportBadger = "badger"
)

// TransportConfig selects the connection supplier. Only the section that
// matches Type is read.
type TransportConfig struct {
	// Type is memory, fs, s3 or badger. Default: memory
	Type string `mapstructure:"type" validate:"required,oneof=memory fs s3 badger" yaml:"type"`

	FS     FSConfig     `mapstructure:"fs" yaml:"fs"`
	S3     S3Config     `mapstructure:"s3" yaml:"s3"`
	Badger BadgerConfig `mapstructure:"badger" yaml:"badger"`
}

// FSConfig stores each zone as a directory tree under Root.
type FSConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// S3Config maps a zone onto an S3 bucket.
type S3Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint overrides the AWS endpoint for S3-compatible services.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// KeyPrefix is prepended to every object key.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`

	// ForcePathStyle is required by most S3-compatible services.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`

	// AccessKeyID and SecretAccessKey override the default AWS credential
	// chain.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key" json:"-"`

	MaxRetries int `mapstructure:"max_retries" validate:"gte=0" yaml:"max_retries"`

	// MultipartThreshold is the object size at which uploads switch to S3
	// multipart. Smaller uploads are sent with a single PutObject.
	// Default: 64Mi
	MultipartThreshold bytesize.ByteSize `mapstructure:"multipart_threshold" yaml:"multipart_threshold"`

	// UploadPartSize is the largest part sent in one UploadPart call. A
	// range longer than this is uploaded as several parts.
	// Default: 16Mi
	UploadPartSize bytesize.ByteSize `mapstructure:"upload_part_size" yaml:"upload_part_size"`
}

// BadgerConfig stores zones in an embedded BadgerDB.
type BadgerConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`
	InMemory bool   `mapstructure:"in_memory" yaml:"in_memory"`
}
