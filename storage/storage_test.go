package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdl/models"
)

func TestLocalWritesSideOutputs(t *testing.T) {
	root := t.TempDir()
	l, err := NewLocal(root)
	require.NoError(t, err)

	for _, dir := range []string{DirDiscovered, DirRaw, DirExtracted, DirEnriched, DirLogs} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	path, err := l.WriteDiscovered("run_1", []models.DiscoveredItem{
		{SourceID: "imf", Title: "A & B", DocURL: "https://x/a"},
		{SourceID: "iea", Title: "C", DocURL: "https://x/c"},
	})
	require.NoError(t, err)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []models.DiscoveredItem
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var it models.DiscoveredItem
		require.NoError(t, json.Unmarshal(sc.Bytes(), &it))
		lines = append(lines, it)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "A & B", lines[0].Title)

	raw, err := l.WriteRaw("imf_abcdef123456.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, DirRaw, "imf_abcdef123456.pdf"), raw)
	assert.Equal(t, "imf_abcdef123456", Stem(raw))

	// Überschreiben statt Anhängen
	_, err = l.WriteRaw("imf_abcdef123456.pdf", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)
	content, err := os.ReadFile(raw)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(content))

	txt, err := l.WriteExtracted("imf_abcdef123456", "Q1 GDP grew 2%.")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, DirExtracted, "imf_abcdef123456.txt"), txt)

	enriched, err := l.WriteEnriched("imf_abcdef123456", json.RawMessage(`{"summary":"x"}`))
	require.NoError(t, err)
	content, err = os.ReadFile(enriched)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"x"}`, string(content))

	_, err = l.WriteEnriched("bad", json.RawMessage(`{`))
	assert.Error(t, err)

	logPath, err := l.WriteRunLog("run_1", map[string]int{"processed": 1})
	require.NoError(t, err)
	content, err = os.ReadFile(logPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"processed":1}`, string(content))

	entries, err := os.ReadDir(filepath.Join(root, DirRaw))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, nil
}

func TestS3MirrorUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iea_0123456789ab.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))

	put := &fakePutter{}
	m := NewS3Mirror(put, S3Config{URL: "https://s3.example.org/", Bucket: "docs", Prefix: "raw/"})

	link, err := m.Upload(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.org/docs/raw/iea_0123456789ab.pdf", link)
	assert.Equal(t, "docs", *put.input.Bucket)
	assert.Equal(t, "raw/iea_0123456789ab.pdf", *put.input.Key)
	assert.Equal(t, "%PDF", put.body)

	failing := NewS3Mirror(&fakePutter{err: errors.New("denied")}, S3Config{Bucket: "docs"})
	_, err = failing.Upload(context.Background(), path)
	assert.Error(t, err)
}

type fakeBucket struct {
	fakePutter
	objects   []types.Object
	deleted   []string
	deleteErr map[string]error
}

func (f *fakeBucket) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return &s3.ListObjectsV2Output{Contents: f.objects}, nil
}

func (f *fakeBucket) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if aws.ToString(in.Key) != "backups/b4" {
		return nil, errors.New("no such key")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("dump b4"))}, nil
}

func (f *fakeBucket) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	key := aws.ToString(in.Key)
	if err := f.deleteErr[key]; err != nil {
		return nil, err
	}
	f.deleted = append(f.deleted, key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestBackupsUploadAndRotate(t *testing.T) {
	base := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	obj := func(key string, days int) types.Object {
		return types.Object{Key: aws.String(key), LastModified: aws.Time(base.AddDate(0, 0, days))}
	}
	bucket := &fakeBucket{
		objects: []types.Object{
			obj("backups/b1", 1), obj("backups/b4", 4), obj("backups/b2", 2), obj("backups/b3", 3),
		},
		deleteErr: map[string]error{"backups/b2": errors.New("denied")},
	}
	b := NewBackups(bucket, "docs", "backups/", 2, nil)

	key, err := b.Upload(context.Background(), "backup-x.gz", []byte("dump"))
	require.NoError(t, err)
	assert.Equal(t, "backups/backup-x.gz", key)
	assert.Equal(t, "dump", bucket.body)

	deleted, err := b.Rotate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"backups/b1"}, deleted)
}

func TestBackupsRotateKeepsFewBackups(t *testing.T) {
	bucket := &fakeBucket{objects: []types.Object{{Key: aws.String("backups/b1")}}}
	deleted, err := NewBackups(bucket, "docs", "backups/", 4, nil).Rotate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, deleted)
	assert.Empty(t, bucket.deleted)
}

func TestBackupsLatestAndDownload(t *testing.T) {
	base := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	bucket := &fakeBucket{objects: []types.Object{
		{Key: aws.String("backups/b1"), LastModified: aws.Time(base)},
		{Key: aws.String("backups/b4"), LastModified: aws.Time(base.AddDate(0, 0, 4))},
	}}
	b := NewBackups(bucket, "docs", "backups/", 4, nil)

	key, err := b.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "backups/b4", key)

	rc, err := b.Download(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "dump b4", string(data))

	_, err = b.Download(context.Background(), "backups/missing")
	assert.Error(t, err)

	_, err = NewBackups(&fakeBucket{}, "docs", "backups/", 4, nil).Latest(context.Background())
	assert.ErrorIs(t, err, ErrNoBackups)
}
