package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hellisbugfree/filing-cabinet/internal/checksum"
	"github.com/hellisbugfree/filing-cabinet/internal/fault"
	"github.com/hellisbugfree/filing-cabinet/internal/model"
)

func TestEnsureFile_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	inserted, err := s.EnsureFile(ctx, digestA, 10, testTime)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.EnsureFile(ctx, digestA, 10, testTime.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, inserted)

	f, err := s.ReadFile(ctx, digestA)
	require.NoError(t, err)
	assert.Equal(t, testTime, f.CreatedAt, "File rows are never mutated")
}

func TestMarkStored_SetsOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureFile(ctx, digestA, 10, testTime)
	require.NoError(t, err)

	first, err := s.MarkStored(ctx, digestA, 10, testTime.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.MarkStored(ctx, digestA, 10, testTime.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, again)

	f, err := s.ReadFile(ctx, digestA)
	require.NoError(t, err)
	require.NotNil(t, f.StoredAt)
	assert.Equal(t, testTime.Add(time.Minute), *f.StoredAt)
}

func TestMarkStored_CreatesFile(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, err := s.MarkStored(ctx, digestB, 99, testTime)
	require.NoError(t, err)
	assert.True(t, first)

	f, err := s.ReadFile(ctx, digestB)
	require.NoError(t, err)
	assert.Equal(t, int64(99), f.Size)
	assert.True(t, f.Stored())
}

func TestReadFile_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadFile(context.Background(), digestC)
	assert.True(t, fault.IsNotFound(err))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountsAndStoredDigests(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureFile(ctx, digestC, 1, testTime)
	require.NoError(t, err)
	_, err = s.MarkStored(ctx, digestB, 1, testTime)
	require.NoError(t, err)
	_, err = s.MarkStored(ctx, digestA, 1, testTime)
	require.NoError(t, err)

	files, err := s.CountFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), files)

	stored, err := s.CountStoredFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored)

	digests, err := s.StoredDigests(ctx)
	require.NoError(t, err)
	assert.Equal(t, []checksum.Digest{digestA, digestB}, digests)
}

func TestRepository_InitAndRead(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.ReadRepository(ctx)
	assert.True(t, fault.IsNotFound(err))

	info := model.RepositoryInfo{Name: "Home", Algorithm: checksum.SHA256, CreatedAt: testTime}
	created, err := s.InitRepository(ctx, info)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.InitRepository(ctx, model.RepositoryInfo{Name: "Other", Algorithm: checksum.BLAKE3, CreatedAt: testTime})
	require.NoError(t, err)
	assert.False(t, created, "second init leaves the row untouched")

	got, err := s.ReadRepository(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Home", got.Name)
	assert.Equal(t, checksum.SHA256, got.Algorithm)
	assert.Equal(t, testTime, got.CreatedAt)
	assert.Equal(t, currentSchemaVersion, got.SchemaVersion)

	require.NoError(t, s.RenameRepository(ctx, "Archive"))
	got, err = s.ReadRepository(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Archive", got.Name)
}

func TestRepository_InitRejectsUnknownAlgorithm(t *testing.T) {
	s := createTestStore(t)
	_, err := s.InitRepository(context.Background(), model.RepositoryInfo{Name: "x", Algorithm: "md5"})
	assert.ErrorIs(t, err, checksum.ErrUnknownAlgorithm)
}
