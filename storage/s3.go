package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config beschreibt einen S3-kompatiblen Speicher mit eigenem Endpunkt.
type S3Config struct {
	URL    string
	Region string
	Key    string
	Secret string
	Bucket string
	// Prefix wird jedem Objektschlüssel vorangestellt, z.B. "raw/".
	Prefix string
}

// putObjectAPI ist der Teil des S3-Clients, den der Spiegel braucht.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Mirror spiegelt heruntergeladene Roh-PDFs in einen Bucket.
type S3Mirror struct {
	client putObjectAPI
	cfg    S3Config
}

// NewS3Client erstellt einen S3-Client für einen S3-kompatiblen Endpunkt.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.URL,
				SigningRegion:     cfg.Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg), nil
}

// NewS3Mirror erstellt den Spiegel mit einem fertigen Client.
func NewS3Mirror(client putObjectAPI, cfg S3Config) *S3Mirror {
	return &S3Mirror{client: client, cfg: cfg}
}

// Upload lädt die Datei unter path hoch und gibt den Link zurück.
func (m *S3Mirror) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := m.cfg.Prefix + filepath.Base(path)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", m.cfg.Bucket, key, err)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(m.cfg.URL, "/"), m.cfg.Bucket, key), nil
}
