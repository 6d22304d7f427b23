package backup

import (
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Destination stores backups in AWS S3 or S3-compatible storage
type S3Destination struct {
	config   *DestinationConfig
	s3Client *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Destination creates a new S3 destination
func NewS3Destination(cfg *DestinationConfig) (*S3Destination, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	// Custom endpoint for S3-compatible storage (MinIO, DigitalOcean Spaces, etc.)
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	log.Printf("[S3Dest] Initialized S3 destination: bucket=%s, region=%s", cfg.Bucket, cfg.Region)

	return &S3Destination{
		config:   cfg,
		s3Client: s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

func (sd *S3Destination) key(filename string) string {
	return path.Join(sd.config.PathPrefix, path.Base(filename))
}

// Upload streams a backup file to S3 with a multipart upload
func (sd *S3Destination) Upload(filename string, reader io.Reader, sizeBytes int64) error {
	key := sd.key(filename)
	log.Printf("[S3Dest] Uploading %s to s3://%s/%s (%d bytes)", filename, sd.config.Bucket, key, sizeBytes)

	contentType := "application/gzip"
	if strings.HasSuffix(filename, ".tar") {
		contentType = "application/x-tar"
	}

	_, err := sd.uploader.Upload(&s3manager.UploadInput{
		Bucket:      aws.String(sd.config.Bucket),
		Key:         aws.String(key),
		Body:        reader,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// Download downloads a backup file from S3
func (sd *S3Destination) Download(filename string, writer io.Writer) error {
	result, err := sd.s3Client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(sd.config.Bucket),
		Key:    aws.String(sd.key(filename)),
	})
	if err != nil {
		return fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	if _, err := io.Copy(writer, result.Body); err != nil {
		return fmt.Errorf("failed to read S3 object: %w", err)
	}
	return nil
}

// Delete removes a backup file from S3
func (sd *S3Destination) Delete(filename string) error {
	key := sd.key(filename)
	log.Printf("[S3Dest] Deleting s3://%s/%s", sd.config.Bucket, key)

	_, err := sd.s3Client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(sd.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// List returns all backup archives under the configured prefix
func (sd *S3Destination) List() ([]BackupFile, error) {
	prefix := strings.Trim(sd.config.PathPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	files := []BackupFile{}
	err := sd.s3Client.ListObjectsV2Pages(&s3.ListObjectsV2Input{
		Bucket: aws.String(sd.config.Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			name := path.Base(aws.StringValue(obj.Key))
			if !isArchiveName(name) {
				continue
			}
			files = append(files, BackupFile{
				Filename:  name,
				SizeBytes: aws.Int64Value(obj.Size),
				CreatedAt: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 objects: %w", err)
	}
	return files, nil
}

// GetType returns the destination type
func (sd *S3Destination) GetType() string {
	return "s3"
}

// Close is a no-op; the SDK client holds no persistent connection
func (sd *S3Destination) Close() error {
	return nil
}
