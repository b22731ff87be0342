package reliability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swap2you/chakraops-sub000/internal/database"
	"github.com/swap2you/chakraops-sub000/internal/domain"
	chtesting "github.com/swap2you/chakraops-sub000/internal/testing"
)

// memPutter records uploads instead of talking to a bucket.
type memPutter struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func (p *memPutter) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if p.fail {
		return nil, assert.AnError
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.objects == nil {
		p.objects = map[string][]byte{}
	}
	p.objects[*input.Key] = body
	return &manager.UploadOutput{}, nil
}

// writeArchiveDay lays out a valid freeze archive directory.
func writeArchiveDay(t *testing.T, dir string) {
	t.Helper()
	frozen := []byte(`{"metadata":{"run_id":"run-1"}}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "decision_frozen.json"), frozen, 0o644))

	sum := sha256.Sum256(frozen)
	manifest, err := json.Marshal(map[string]any{
		"run_id": "run-1",
		"sha256": hex.EncodeToString(sum[:]),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), manifest, 0o644))
}

func TestUploadDay(t *testing.T) {
	dir := t.TempDir()
	writeArchiveDay(t, dir)

	putter := &memPutter{}
	up := &ArchiveUploader{uploader: putter, bucket: "chakraops", log: zerolog.Nop()}

	report, err := up.UploadDay(context.Background(), dir, "2026-03-20")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Files)
	assert.Positive(t, report.Bytes)
	assert.Equal(t, []string{
		"decisions/2026-03-20/decision_frozen.json",
		"decisions/2026-03-20/manifest.json",
	}, report.Keys)
	assert.Len(t, putter.objects, 2)
}

func TestUploadDayChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	writeArchiveDay(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "decision_frozen.json"), []byte(`{"tampered":true}`), 0o644))

	up := &ArchiveUploader{uploader: &memPutter{}, bucket: "chakraops", log: zerolog.Nop()}

	_, err := up.UploadDay(context.Background(), dir, "2026-03-20")
	var serr *domain.StoreError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Error(), "checksum")
}

func TestUploadDayEmptyDirectory(t *testing.T) {
	up := &ArchiveUploader{uploader: &memPutter{}, bucket: "chakraops", log: zerolog.Nop()}

	_, err := up.UploadDay(context.Background(), t.TempDir(), "2026-03-20")
	var serr *domain.StoreError
	require.ErrorAs(t, err, &serr)
}

func TestUploadDayPropagatesUploadFailure(t *testing.T) {
	dir := t.TempDir()
	writeArchiveDay(t, dir)

	up := &ArchiveUploader{uploader: &memPutter{fail: true}, bucket: "chakraops", log: zerolog.Nop()}

	_, err := up.UploadDay(context.Background(), dir, "2026-03-20")
	require.Error(t, err)
}

func TestMaintenanceJobs(t *testing.T) {
	db, cleanup := chtesting.NewTestDB(t, "chakraops")
	t.Cleanup(cleanup)
	cacheDB, cacheCleanup := chtesting.NewTestDB(t, "cache")
	t.Cleanup(cacheCleanup)

	m := NewMaintenance(map[string]*database.DB{
		"chakraops": db,
		"cache":     cacheDB,
	}, zerolog.Nop())

	require.NoError(t, m.CheckpointAll())
	require.NoError(t, m.VacuumAll())
	require.NoError(t, m.IntegrityCheck(context.Background()))
	m.LogStats()
}
