package main

import (
	"context"

	"github.com/go-logr/zapr"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nasqa/uut-harness/framework/config"
	"github.com/nasqa/uut-harness/framework/objectstore"
	"github.com/nasqa/uut-harness/framework/report"
	"github.com/nasqa/uut-harness/framework/runner"
	"github.com/nasqa/uut-harness/pkg/device"
	"github.com/nasqa/uut-harness/pkg/device/factory"
	"github.com/nasqa/uut-harness/pkg/device/ssh"
)

func factoryConfig(cfg *config.Config) (factory.Config, error) {
	platform, err := device.ParsePlatform(cfg.Platform)
	if err != nil {
		return factory.Config{}, err
	}
	fc := factory.Config{
		Platform:     platform,
		AdbPath:      cfg.AdbPath,
		SerialPort:   cfg.SerialPort,
		SerialBaud:   cfg.SerialBaud,
		RestURL:      cfg.RestURL,
		RestToken:    cfg.RestToken,
		RestInsecure: cfg.RestInsecure,
	}
	// Only the platform's own shell transport is offered.
	switch platform.ShellTransport() {
	case device.TransportADB:
		fc.AdbSerial = cfg.AdbSerial
	case device.TransportSSH:
		fc.SSH = ssh.Config{
			Host:     cfg.UUTIP,
			Port:     cfg.SSHPort,
			User:     cfg.SSHUser,
			Password: cfg.SSHPassword,
			KeyFile:  cfg.SSHKeyFile,
		}
	}
	return fc, nil
}

func storeConfig(cfg *config.Config) objectstore.Config {
	return objectstore.Config{
		Provider:           cfg.ObjectStoreProvider,
		Bucket:             cfg.ObjectStoreBucket,
		Prefix:             cfg.ObjectStorePrefix,
		Region:             cfg.ObjectStoreRegion,
		Endpoint:           cfg.ObjectStoreEndpoint,
		AccessKey:          cfg.ObjectStoreAccessKey,
		SecretKey:          cfg.ObjectStoreSecretKey,
		SessionToken:       cfg.ObjectStoreSessionToken,
		S3PathStyle:        cfg.ObjectStoreS3PathStyle,
		GCPProject:         cfg.ObjectStoreGCPProject,
		GCPCredentialsFile: cfg.ObjectStoreGCPCredentialsFile,
		GCPCredentialsJSON: cfg.ObjectStoreGCPCredentialsJSON,
		AzureAccount:       cfg.ObjectStoreAzureAccount,
		AzureKey:           cfg.ObjectStoreAzureKey,
		AzureEndpoint:      cfg.ObjectStoreAzureEndpoint,
		AzureSASToken:      cfg.ObjectStoreAzureSASToken,
	}
}

// runnerOptions wires the optional reporters, sinks and artifact store.
// The returned store, if any, must be closed by the caller.
func runnerOptions(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]runner.Option, objectstore.Store, error) {
	reporters := []report.Reporter{report.NewConsole(cfg.Reporter)}
	if cfg.PopcornURL != "" {
		reporters = append(reporters, report.NewPopcorn(cfg.PopcornURL, cfg.PopcornProduct, logger))
	}
	opts := []runner.Option{runner.WithReporters(reporters...)}
	if cfg.LogstashURL != "" {
		opts = append(opts, runner.WithSinks(report.NewLogstash(cfg.LogstashURL, cfg.RunID, cfg.UUTIP, logger)))
	}

	sc := storeConfig(cfg)
	if !sc.Enabled() {
		return opts, nil, nil
	}
	store, err := objectstore.New(ctx, sc)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect artifact store")
	}
	return append(opts, runner.WithStore(store)), store, nil
}

func newDevices(cfg *config.Config, logger *zap.Logger) (*factory.Factory, error) {
	fc, err := factoryConfig(cfg)
	if err != nil {
		return nil, err
	}
	return factory.New(fc, zapr.NewLogger(logger.Named("device"))), nil
}
