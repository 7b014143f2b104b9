// Package attach stores event attachments in S3-compatible object storage,
// optionally encrypted at rest with a passphrase-derived key.
package attach

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Info describes a stored attachment.
type Info struct {
	Name        string
	ContentType string
	Size        int64
}

// Store is the attachment collaborator. A dir groups the attachments of one
// event (calendar id / event uid).
type Store interface {
	List(ctx context.Context, dir string) ([]Info, error)
	Read(ctx context.Context, dir, name string) ([]byte, error)
	Write(ctx context.Context, dir, name string, data []byte, contentType string) error
	Delete(ctx context.Context, dir, name string) error
}

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string

	// Passphrase enables at-rest encryption of attachment bodies. Empty
	// means objects are stored as-is.
	Passphrase string
}

// S3Store stores attachments under <prefix>/<dir>/<name> in one bucket.
type S3Store struct {
	cfg    S3Config
	client s3Client
	prefix string
}

func NewS3Store(cfg S3Config) *S3Store {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return &S3Store{cfg: cfg, client: s3.New(opts), prefix: "attachments"}
}

func (s *S3Store) key(dir, name string) string {
	return path.Join(s.prefix, dir, name)
}

func (s *S3Store) List(ctx context.Context, dir string) ([]Info, error) {
	prefix := path.Join(s.prefix, dir) + "/"
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}

	var infos []Info
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		name := strings.TrimPrefix(*obj.Key, prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		info := Info{Name: name}
		if obj.Size != nil {
			info.Size = *obj.Size
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *S3Store) Read(ctx context.Context, dir, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(dir, name)),
	})
	if err != nil {
		return nil, fmt.Errorf("get attachment %s: %w", name, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", name, err)
	}

	if s.cfg.Passphrase != "" {
		data, err = Open(data, s.cfg.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("unseal attachment %s: %w", name, err)
		}
	}
	return data, nil
}

func (s *S3Store) Write(ctx context.Context, dir, name string, data []byte, contentType string) error {
	if s.cfg.Passphrase != "" {
		salt, err := GenerateSalt()
		if err != nil {
			return err
		}
		data, err = Seal(data, s.cfg.Passphrase, salt)
		if err != nil {
			return fmt.Errorf("seal attachment %s: %w", name, err)
		}
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(s.key(dir, name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" && s.cfg.Passphrase == "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put attachment %s: %w", name, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, dir, name string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(dir, name)),
	}); err != nil {
		return fmt.Errorf("delete attachment %s: %w", name, err)
	}
	return nil
}
