package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"empty", "", ""},
		{"short value fully masked", "abc", "***"},
		{"boundary fully masked", "12345678", "********"},
		{"long value keeps prefix", "abcdef0123456789", "abcdef******"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, maskSecret(tc.value))
		})
	}
}

func TestMaskCredentials(t *testing.T) {
	masked := maskCredentials(map[string]string{
		"account_name": "teststorage",
		"account_key":  "c2VjcmV0LXN0b3JhZ2Uta2V5",
	})

	assert.Equal(t, "testst******", masked["account_name"])
	assert.Equal(t, "c2Vjcm******", masked["account_key"])
	assert.NotContains(t, masked["account_key"], "cmV0LXN0b3JhZ2U")
}

func TestSafeFileName(t *testing.T) {
	tests := []struct {
		fileID string
		want   string
	}{
		{"documents/reports/q1.pdf", "q1.pdf"},
		{"readme.md", "readme.md"},
		{`folder\file.txt`, "file.txt"},
		{"weird:name?.bin", "weird_name_.bin"},
		{"documents/", "download"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, safeFileName(tc.fileID))
	}
}

func TestCatalogEntry(t *testing.T) {
	info, ok := catalogEntry("azure_blob")
	require.True(t, ok)
	assert.Equal(t, kindOnlineDrive, info.Kind)

	info, ok = catalogEntry("teams")
	require.True(t, ok)
	assert.Equal(t, kindOnlineDocument, info.Kind)

	_, ok = catalogEntry("dropbox")
	assert.False(t, ok)
}

func TestRequiresCredentials(t *testing.T) {
	assert.True(t, requiresCredentials("azure_blob"))
	assert.True(t, requiresCredentials("linuxdo"))
	assert.False(t, requiresCredentials("v2ex"))
	assert.False(t, requiresCredentials("dropbox")) // unknown providers need nothing
}

func TestBuildDriveRejectsWrongKind(t *testing.T) {
	app := newTestApp(t)

	_, err := app.buildDrive("teams")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an online drive")

	_, err = app.buildDocument("azure_blob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an online document source")
}

func TestBuildDriveRequiresStoredCredentials(t *testing.T) {
	app := newTestApp(t)

	_, err := app.buildDrive("azure_blob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials stored")
}

func TestBuildToolProviderKeyless(t *testing.T) {
	app := newTestApp(t)

	// v2ex needs no stored credentials
	provider, err := app.buildToolProvider("v2ex")
	require.NoError(t, err)
	assert.Equal(t, "v2ex", provider.Name())
}

func TestFindTool(t *testing.T) {
	app := newTestApp(t)

	found, err := app.findTool("v2ex", "v2ex_search")
	require.NoError(t, err)
	assert.Equal(t, "v2ex_search", found.Name())

	_, err = app.findTool("v2ex", "missing_tool")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tool named")
}

func TestDownloadWorkersDefault(t *testing.T) {
	original := downloadWorkersEnv
	defer func() { downloadWorkersEnv = original }()

	downloadWorkersEnv = ""
	assert.Equal(t, 2, downloadWorkers())

	downloadWorkersEnv = "4"
	assert.Equal(t, 4, downloadWorkers())

	downloadWorkersEnv = "0"
	assert.Equal(t, 2, downloadWorkers())
}

func TestRevalidationIntervalDefault(t *testing.T) {
	original := revalidateIntervalEnv
	defer func() { revalidateIntervalEnv = original }()

	revalidateIntervalEnv = ""
	assert.Equal(t, 30*time.Minute, revalidationInterval())

	revalidateIntervalEnv = "5m"
	assert.Equal(t, 5*time.Minute, revalidationInterval())

	revalidateIntervalEnv = "not-a-duration"
	assert.Equal(t, 30*time.Minute, revalidationInterval())
}

type fakeBackgroundProcessor struct {
	calls atomic.Int32
}

func (f *fakeBackgroundProcessor) revalidateStoredCredentials() (int, error) {
	f.calls.Add(1)
	return 0, nil
}

func TestStartBackgroundTasksRunsAndStops(t *testing.T) {
	processor := &fakeBackgroundProcessor{}
	ctx, cancel := context.WithCancel(context.Background())

	StartBackgroundTasks(ctx, processor, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return processor.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)
	settled := processor.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, processor.calls.Load(), settled+1)
}

func TestRevalidateStoredCredentialsRecordsOutcomes(t *testing.T) {
	app := newTestApp(t)

	// Stored credentials the provider rejects still produce a recorded
	// validation failure without aborting the cycle.
	require.NoError(t, SaveCredentials(app.Database, "unsplash", map[string]string{"access_key": ""}))

	checked, err := app.revalidateStoredCredentials()
	require.NoError(t, err)
	assert.Equal(t, 1, checked)

	history, err := GetValidationHistory(app.Database, "unsplash", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Valid)
}

func TestJobStoreOrdering(t *testing.T) {
	older := &Job{ID: generateJobID(), Provider: "azure_blob", FileID: "a", Status: "pending", CreatedAt: time.Now().Add(-time.Hour)}
	newer := &Job{ID: generateJobID(), Provider: "azure_blob", FileID: "b", Status: "pending", CreatedAt: time.Now()}
	jobStore.addJob(older)
	jobStore.addJob(newer)

	jobs := jobStore.GetAllJobs()
	require.GreaterOrEqual(t, len(jobs), 2)

	var posOlder, posNewer int
	for i, job := range jobs {
		switch job.ID {
		case older.ID:
			posOlder = i
		case newer.ID:
			posNewer = i
		}
	}
	assert.Less(t, posNewer, posOlder) // newest first
}

func TestJobStoreProgress(t *testing.T) {
	job := &Job{ID: generateJobID(), Provider: "azure_blob", FileID: "documents/big.bin", Status: "in_progress", CreatedAt: time.Now()}
	jobStore.addJob(job)

	jobStore.updateProgress(job.ID, 1024, 4096, "big.bin", "application/octet-stream")

	updated, exists := jobStore.getJob(job.ID)
	require.True(t, exists)
	assert.Equal(t, int64(1024), updated.BytesDone)
	assert.Equal(t, int64(4096), updated.TotalBytes)
	assert.Equal(t, "big.bin", updated.FileName)
	assert.Equal(t, "application/octet-stream", updated.ContentType)
}
