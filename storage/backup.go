package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// backupAPI ist der Teil des S3-Clients, den die Backup-Ablage braucht.
type backupAPI interface {
	putObjectAPI
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Backups legt Datenbank-Dumps unter einem Prefix ab und behält nur die
// neuesten Keep Stück.
type Backups struct {
	client backupAPI
	bucket string
	prefix string
	keep   int
	logger *zap.Logger
}

func NewBackups(client backupAPI, bucket, prefix string, keep int, logger *zap.Logger) *Backups {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backups{client: client, bucket: bucket, prefix: prefix, keep: keep, logger: logger}
}

// Upload lädt einen Dump unter prefix+name hoch und gibt den Schlüssel zurück.
func (b *Backups) Upload(ctx context.Context, name string, data []byte) (string, error) {
	key := b.prefix + name
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", b.bucket, key, err)
	}
	return key, nil
}

// ErrNoBackups wird gemeldet, wenn unter dem Prefix kein Backup liegt.
var ErrNoBackups = errors.New("no backups found")

// list liefert die Backups unter dem Prefix, neuestes zuerst.
func (b *Backups) list(ctx context.Context) ([]types.Object, error) {
	output, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list s3://%s/%s: %w", b.bucket, b.prefix, err)
	}
	objects := output.Contents
	sort.Slice(objects, func(i, j int) bool {
		return aws.ToTime(objects[i].LastModified).After(aws.ToTime(objects[j].LastModified))
	})
	return objects, nil
}

// Latest gibt den Schlüssel des neuesten Backups zurück.
func (b *Backups) Latest(ctx context.Context) (string, error) {
	objects, err := b.list(ctx)
	if err != nil {
		return "", err
	}
	if len(objects) == 0 {
		return "", ErrNoBackups
	}
	return aws.ToString(objects[0].Key), nil
}

// Download öffnet das Backup unter key. Der Aufrufer schließt den Reader.
func (b *Backups) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", b.bucket, key, err)
	}
	return out.Body, nil
}

// Rotate löscht alle Backups unter dem Prefix außer den neuesten keep. Ein
// fehlgeschlagenes Löschen wird nur protokolliert.
func (b *Backups) Rotate(ctx context.Context) ([]string, error) {
	objects, err := b.list(ctx)
	if err != nil {
		return nil, err
	}

	if b.keep <= 0 || len(objects) <= b.keep {
		b.logger.Info("Keine Rotation nötig", zap.Int("backups", len(objects)), zap.Int("keep", b.keep))
		return nil, nil
	}

	var deleted []string
	for _, obj := range objects[b.keep:] {
		key := aws.ToString(obj.Key)
		b.logger.Info("Lösche altes Backup", zap.String("key", key))
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    obj.Key,
		})
		if err != nil {
			b.logger.Warn("Fehler beim Löschen", zap.String("key", key), zap.Error(err))
			continue
		}
		deleted = append(deleted, key)
	}
	return deleted, nil
}
