package blobstore

import (
	"context"
	"fmt"
)

type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"accessKey" env:"S3_ACCESS_KEY"`
	SecretKey    string `yaml:"secretKey" env:"S3_SECRET_KEY"`
	ConnAttempts int    `yaml:"connAttempts"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"accessKey" env:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" env:"MINIO_SECRET_KEY"`
	UseSSL    bool   `yaml:"useSSL"`
}

// Config selects and configures the blob store backend.
type Config struct {
	Type      string      `yaml:"type"`
	Directory string      `yaml:"directory"`
	S3        S3Config    `yaml:"s3"`
	Minio     MinioConfig `yaml:"minio"`
}

func New(ctx context.Context, cfg Config) (BlobStore, error) {
	switch cfg.Type {
	case "filesystem", "":
		return NewFileStore(cfg.Directory)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	case "minio":
		return NewMinioStore(ctx, cfg.Minio)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
