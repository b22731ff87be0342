// Package reliability holds the offsite archive uploader and the database
// maintenance jobs. Both are optional: the uploader only exists when an
// S3-compatible target is configured, and maintenance runs on the nightly
// schedule.
package reliability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/swap2you/chakraops-sub000/internal/config"
	"github.com/swap2you/chakraops-sub000/internal/domain"
)

const (
	keyPrefix         = "decisions"
	maxParallelUpload = 4
)

// objectPutter is the slice of manager.Uploader the archive uploader needs.
type objectPutter interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// ArchiveUploader pushes a day's freeze archive to an S3-compatible bucket
// (R2, MinIO, or plain S3).
type ArchiveUploader struct {
	uploader objectPutter
	bucket   string
	log      zerolog.Logger
}

// NewArchiveUploader builds the uploader from the archive target config.
// Call config.ArchiveConfig.Enabled first; an incomplete target is a
// ConfigError.
func NewArchiveUploader(ctx context.Context, cfg config.ArchiveConfig, log zerolog.Logger) (*ArchiveUploader, error) {
	if !cfg.Enabled() {
		return nil, &domain.ConfigError{Key: "ARCHIVE_S3_ENDPOINT", Reason: "archive target is not fully configured"}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading archive credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return &ArchiveUploader{
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		log:      log.With().Str("component", "archive_uploader").Logger(),
	}, nil
}

// UploadReport summarizes one day's upload.
type UploadReport struct {
	Day   string   `json:"day"`
	Files int      `json:"files"`
	Bytes int64    `json:"bytes"`
	Keys  []string `json:"keys"`
}

// frozenManifest is the slice of the freeze manifest the uploader validates.
type frozenManifest struct {
	SHA256 string `json:"sha256"`
}

// UploadDay uploads every file in the day's archive directory under
// decisions/<day>/. When the directory carries a manifest, the frozen copy's
// checksum is verified before any bytes leave the machine.
func (u *ArchiveUploader) UploadDay(ctx context.Context, archiveDir, day string) (*UploadReport, error) {
	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		return nil, &domain.StoreError{Op: "archive.upload", Path: archiveDir, Err: err}
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, &domain.StoreError{Op: "archive.upload", Path: archiveDir, Err: fmt.Errorf("archive directory is empty")}
	}

	if err := u.verifyManifest(archiveDir); err != nil {
		return nil, err
	}

	report := &UploadReport{Day: day}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUpload)
	for _, name := range names {
		g.Go(func() error {
			path := filepath.Join(archiveDir, name)
			f, err := os.Open(path)
			if err != nil {
				return &domain.StoreError{Op: "archive.upload", Path: path, Err: err}
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return &domain.StoreError{Op: "archive.upload", Path: path, Err: err}
			}

			key := fmt.Sprintf("%s/%s/%s", keyPrefix, day, name)
			if _, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
				Bucket:      aws.String(u.bucket),
				Key:         aws.String(key),
				Body:        f,
				ContentType: aws.String("application/json"),
			}); err != nil {
				return fmt.Errorf("uploading %s: %w", key, err)
			}

			mu.Lock()
			report.Files++
			report.Bytes += info.Size()
			report.Keys = append(report.Keys, key)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(report.Keys)
	u.log.Info().Str("day", day).Int("files", report.Files).Int64("bytes", report.Bytes).Msg("Archive uploaded")
	return report, nil
}

// verifyManifest checks the frozen decision against the manifest checksum.
// A directory without a manifest uploads as-is.
func (u *ArchiveUploader) verifyManifest(archiveDir string) error {
	raw, err := os.ReadFile(filepath.Join(archiveDir, "manifest.json"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &domain.StoreError{Op: "archive.verify", Path: archiveDir, Err: err}
	}

	var m frozenManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return &domain.StoreError{Op: "archive.verify", Path: archiveDir, Err: err}
	}

	frozenPath := filepath.Join(archiveDir, "decision_frozen.json")
	f, err := os.Open(frozenPath)
	if err != nil {
		return &domain.StoreError{Op: "archive.verify", Path: frozenPath, Err: err}
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return &domain.StoreError{Op: "archive.verify", Path: frozenPath, Err: err}
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != m.SHA256 {
		return &domain.StoreError{
			Op: "archive.verify", Path: frozenPath,
			Err: fmt.Errorf("checksum %s does not match manifest %s", sum, m.SHA256),
		}
	}
	return nil
}
