package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/OFFIS-RIT/folio/backend/internal/util"
	"github.com/OFFIS-RIT/folio/backend/pkg/export"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectAPI is the part of the S3 client the export store uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

func NewS3Client(ctx context.Context) (*s3.Client, error) {
	region := util.GetEnv("AWS_REGION")
	endpoint := util.GetEnvString("AWS_ENDPOINT", "")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

// ExportStore keeps portfolio export snapshots under
// exports/<collection>/<timestamp>-<correlation id>.json.
type ExportStore struct {
	client ObjectAPI
	bucket string
}

func NewExportStore(client ObjectAPI, bucket string) *ExportStore {
	return &ExportStore{client: client, bucket: bucket}
}

// ExportKey names the object for one ingest. Keys of one collection sort
// by time.
func ExportKey(collection, correlationID string, at time.Time) string {
	return path.Join("exports", collection, fmt.Sprintf("%s-%s.json", at.UTC().Format("20060102T150405Z"), correlationID))
}

// PutExport uploads a snapshot and returns its key.
func (s *ExportStore) PutExport(ctx context.Context, collection, correlationID string, data []byte) (string, error) {
	key := ExportKey(collection, correlationID, time.Now())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload export to S3: %w", err)
	}
	return key, nil
}

func (s *ExportStore) GetExport(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get export from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	return data, nil
}

// LatestExportKey returns the newest snapshot key of collection, or ""
// when there is none.
func (s *ExportStore) LatestExportKey(ctx context.Context, collection string) (string, error) {
	keys, err := s.listKeys(ctx, exportPrefix(collection))
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", nil
	}
	sort.Strings(keys)
	return keys[len(keys)-1], nil
}

// LatestExport loads the newest snapshot of collection. It returns nil
// when the collection has none.
func (s *ExportStore) LatestExport(ctx context.Context, collection string) (*export.Payload, error) {
	key, err := s.LatestExportKey(ctx, collection)
	if err != nil || key == "" {
		return nil, err
	}
	return s.LoadExport(ctx, key)
}

// LoadExport fetches and decodes the snapshot under key.
func (s *ExportStore) LoadExport(ctx context.Context, key string) (*export.Payload, error) {
	data, err := s.GetExport(ctx, key)
	if err != nil {
		return nil, err
	}
	p, err := export.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", key, err)
	}
	return p, nil
}

// PruneExports deletes all but the newest keep snapshots of collection.
func (s *ExportStore) PruneExports(ctx context.Context, collection string, keep int) (int, error) {
	keys, err := s.listKeys(ctx, exportPrefix(collection))
	if err != nil {
		return 0, err
	}
	if keep < 1 {
		keep = 1
	}
	if len(keys) <= keep {
		return 0, nil
	}
	sort.Strings(keys)
	stale := keys[:len(keys)-keep]

	objects := make([]types.ObjectIdentifier, 0, len(stale))
	for _, k := range stale {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
	}
	_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale exports of %s: %w", collection, err)
	}
	return len(stale), nil
}

func (s *ExportStore) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := s.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}

		for _, obj := range listOutput.Contents {
			if obj.Key != nil && strings.HasSuffix(*obj.Key, ".json") {
				keys = append(keys, *obj.Key)
			}
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return keys, nil
}

func exportPrefix(collection string) string {
	return path.Join("exports", collection) + "/"
}
