package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/univac-1/risk-analyzer/internal/domain"
)

func testMetadata() domain.VideoMetadata {
	return domain.VideoMetadata{
		Purpose:        "product ad",
		Platform:       domain.PlatformTikTok,
		TargetAudience: "20s",
	}
}

func TestIngestSuccess(t *testing.T) {
	videos := newFakeVideos()
	jobs := newFakeJobs()
	blob := newFakeBlob()
	progress := newFakeProgress()
	queue := &fakeQueue{}
	svc := NewIngestService(videos, jobs, blob, progress, queue)

	job, err := svc.Ingest(context.Background(), strings.NewReader("clip-bytes"), 10, "video/mp4", "clip.mp4", testMetadata())
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.Status)
	assert.Equal(t, testMetadata(), job.Metadata)

	stored, err := videos.Get(context.Background(), job.VideoID)
	require.NoError(t, err)
	assert.Equal(t, VideoBlobPath(job.VideoID), stored.BlobPath)
	assert.Equal(t, []byte("clip-bytes"), blob.objects[stored.BlobPath])
	assert.Equal(t, []string{job.ID}, progress.inits)
	assert.Equal(t, []string{job.ID}, queue.analysisTasks)
}

func TestIngestBlobFailure(t *testing.T) {
	blob := newFakeBlob()
	blob.putErr = errBoom
	svc := NewIngestService(newFakeVideos(), newFakeJobs(), blob, newFakeProgress(), &fakeQueue{})

	_, err := svc.Ingest(context.Background(), strings.NewReader("x"), 1, "video/mp4", "clip.mp4", testMetadata())
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
}

func TestIngestJobCreateFailureRollsBack(t *testing.T) {
	videos := newFakeVideos()
	jobs := newFakeJobs()
	jobs.createErr = errBoom
	blob := newFakeBlob()
	svc := NewIngestService(videos, jobs, blob, newFakeProgress(), &fakeQueue{})

	_, err := svc.Ingest(context.Background(), strings.NewReader("x"), 1, "video/mp4", "clip.mp4", testMetadata())
	require.Error(t, err)
	assert.Len(t, videos.deleted, 1)
	assert.Len(t, blob.removed, 1)
	assert.Empty(t, blob.objects)
}

func TestIngestEnqueueFailureFailsJob(t *testing.T) {
	jobs := newFakeJobs()
	queue := &fakeQueue{enqueueAnalysis: errBoom}
	svc := NewIngestService(newFakeVideos(), jobs, newFakeBlob(), newFakeProgress(), queue)

	_, err := svc.Ingest(context.Background(), strings.NewReader("x"), 1, "video/mp4", "clip.mp4", testMetadata())
	require.Error(t, err)

	require.Len(t, jobs.jobs, 1)
	for _, j := range jobs.jobs {
		assert.Equal(t, domain.JobFailed, j.Status)
		assert.Equal(t, "enqueue failed", j.ErrorMessage)
	}
}
