package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

func TestSweepRemovesExpiredJobs(t *testing.T) {
	jobs := newFakeJobs()
	videos := newFakeVideos()
	blob := newFakeBlob()
	progress := newFakeProgress()

	old := time.Now().UTC().Add(-72 * time.Hour)
	require.NoError(t, videos.Create(context.Background(), domain.Video{
		ID: "vid-old", BlobPath: VideoBlobPath("vid-old"), CreatedAt: old,
	}))
	blob.objects[VideoBlobPath("vid-old")] = []byte("clip")
	blob.objects[ExportBlobPath("job-old", "exp-1")] = []byte("render")
	jobs.jobs["job-old"] = domain.AnalysisJob{
		ID: "job-old", VideoID: "vid-old", Status: domain.JobCompleted,
		CreatedAt: old, UpdatedAt: old, CompletedAt: &old,
	}

	fresh := time.Now().UTC()
	require.NoError(t, videos.Create(context.Background(), domain.Video{
		ID: "vid-new", BlobPath: VideoBlobPath("vid-new"), CreatedAt: fresh,
	}))
	blob.objects[VideoBlobPath("vid-new")] = []byte("clip")
	jobs.jobs["job-new"] = domain.AnalysisJob{
		ID: "job-new", VideoID: "vid-new", Status: domain.JobCompleted,
		CreatedAt: fresh, UpdatedAt: fresh, CompletedAt: &fresh,
	}

	svc := NewRetentionService(jobs, videos, blob, progress, 24*time.Hour)
	removed, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NotContains(t, blob.objects, VideoBlobPath("vid-old"))
	assert.NotContains(t, blob.objects, ExportBlobPath("job-old", "exp-1"))
	assert.Contains(t, blob.objects, VideoBlobPath("vid-new"))
	assert.Contains(t, blob.prefixes, "exports/job-old/")
	assert.Contains(t, progress.deleted, "job-old")
	assert.Equal(t, []string{"vid-old"}, videos.deleted)
}

func TestSweepNothingExpired(t *testing.T) {
	jobs := newFakeJobs()
	now := time.Now().UTC()
	jobs.jobs["job-1"] = domain.AnalysisJob{
		ID: "job-1", VideoID: "vid-1", Status: domain.JobCompleted,
		CreatedAt: now, UpdatedAt: now, CompletedAt: &now,
	}
	svc := NewRetentionService(jobs, newFakeVideos(), newFakeBlob(), newFakeProgress(), 24*time.Hour)

	removed, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}
