// Package factory builds connection suppliers from configuration.
package factory

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/gorods/internal/logger"
	"github.com/marmos91/gorods/pkg/config"
	"github.com/marmos91/gorods/pkg/metrics"
	"github.com/marmos91/gorods/pkg/transport"
	"github.com/marmos91/gorods/pkg/transport/badger"
	"github.com/marmos91/gorods/pkg/transport/fs"
	"github.com/marmos91/gorods/pkg/transport/memory"
	"github.com/marmos91/gorods/pkg/transport/s3"
)

// Supplier is a configured connection supplier and the resources it owns.
type Supplier struct {
	transport.Supplier

	// Type is the configured transport type.
	Type string

	close func() error
}

// Close releases resources held by the supplier, such as an open database.
func (s *Supplier) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// NewSupplier creates the supplier selected by cfg.Type. reg receives the
// transport's metrics and may be nil.
func NewSupplier(ctx context.Context, cfg config.TransportConfig, reg prometheus.Registerer) (*Supplier, error) {
	var (
		sup transport.Supplier
		cl  func() error
		err error
	)

	switch cfg.Type {
	case config.TransportMemory, "":
		sup = memory.NewZone()
	case config.TransportFS:
		sup, err = createFSZone(cfg.FS)
	case config.TransportS3:
		sup, err = createS3Zone(ctx, cfg.S3, reg)
	case config.TransportBadger:
		var z *badger.Zone
		z, err = createBadgerZone(cfg.Badger)
		if err == nil {
			sup, cl = z, z.Close
		}
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s transport: %w", cfg.Type, err)
	}

	typ := cfg.Type
	if typ == "" {
		typ = config.TransportMemory
	}
	logger.Debug("transport created", logger.KeyBackend, typ)
	return &Supplier{Supplier: sup, Type: typ, close: cl}, nil
}

func createFSZone(cfg config.FSConfig) (*fs.Zone, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("fs transport requires root to be set")
	}
	return fs.NewWithRoot(cfg.Root)
}

func createS3Zone(ctx context.Context, cfg config.S3Config, reg prometheus.Registerer) (*s3.Zone, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 transport requires bucket to be set")
	}

	var m *metrics.S3Metrics
	if reg != nil {
		m = metrics.NewS3Metrics(reg)
	}

	return s3.NewFromConfig(ctx, s3.Config{
		Bucket:             cfg.Bucket,
		Region:             cfg.Region,
		Endpoint:           cfg.Endpoint,
		KeyPrefix:          cfg.KeyPrefix,
		MaxRetries:         cfg.MaxRetries,
		ForcePathStyle:     cfg.ForcePathStyle,
		AccessKeyID:        cfg.AccessKeyID,
		SecretAccessKey:    cfg.SecretAccessKey,
		MultipartThreshold: cfg.MultipartThreshold.Int64(),
		UploadPartSize:     cfg.UploadPartSize.Int64(),
	}, m)
}

func createBadgerZone(cfg config.BadgerConfig) (*badger.Zone, error) {
	return badger.New(badger.Config{Dir: cfg.Dir, InMemory: cfg.InMemory})
}
