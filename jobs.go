package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"slate-connect/datasource"
)

var (
	jobCancellersMu sync.Mutex
	jobCancellers   = make(map[string]context.CancelFunc)
)

// Job represents a file download job
type Job struct {
	ID          string
	Provider    string
	FileID      string
	Status      string // "pending", "in_progress", "completed", "failed", "cancelled"
	Result      string // Path of the downloaded file or error message
	FileName    string
	ContentType string
	BytesDone   int64
	TotalBytes  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// JobStore manages jobs and their statuses
type JobStore struct {
	sync.RWMutex
	jobs map[string]*Job
}

var (
	logger = logrus.New()

	jobStore = &JobStore{
		jobs: make(map[string]*Job),
	}
	jobQueue = make(chan *Job, 100) // Buffered channel with capacity of 100 jobs
)

func init() {

	// Initialize logger
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)
	logger.WithField("prefix", "DOWNLOAD_JOB")
}

func generateJobID() string {
	return uuid.New().String()
}

func (store *JobStore) addJob(job *Job) {
	store.Lock()
	defer store.Unlock()
	job.BytesDone = 0 // Initialize BytesDone to 0
	store.jobs[job.ID] = job
	logger.Infof("Job added: %s (provider=%s, file=%s)", job.ID, job.Provider, job.FileID)
}

func (store *JobStore) getJob(jobID string) (*Job, bool) {
	store.RLock()
	defer store.RUnlock()
	job, exists := store.jobs[jobID]
	return job, exists
}

func (store *JobStore) GetAllJobs() []*Job {
	store.RLock()
	defer store.RUnlock()

	jobs := make([]*Job, 0, len(store.jobs))
	for _, job := range store.jobs {
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	return jobs
}

func (store *JobStore) updateJobStatus(jobID, status, result string) {
	store.Lock()
	defer store.Unlock()
	if job, exists := store.jobs[jobID]; exists {
		job.Status = status
		if result != "" {
			job.Result = result
		}
		job.UpdatedAt = time.Now()
		logger.Infof("Job %s status updated: %s", jobID, status)
	}
}

func (store *JobStore) updateProgress(jobID string, bytesDone, totalBytes int64, fileName, contentType string) {
	store.Lock()
	defer store.Unlock()
	if job, exists := store.jobs[jobID]; exists {
		job.BytesDone = bytesDone
		if totalBytes > 0 {
			job.TotalBytes = totalBytes
		}
		if fileName != "" {
			job.FileName = fileName
		}
		if contentType != "" {
			job.ContentType = contentType
		}
		job.UpdatedAt = time.Now()
	}
}

func (store *JobStore) jobResponse(job *Job) JobResponse {
	store.RLock()
	defer store.RUnlock()
	return JobResponse{
		ID:          job.ID,
		Provider:    job.Provider,
		FileID:      job.FileID,
		Status:      job.Status,
		Result:      job.Result,
		FileName:    job.FileName,
		ContentType: job.ContentType,
		BytesDone:   job.BytesDone,
		TotalBytes:  job.TotalBytes,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

func startWorkerPool(app *App, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		go func(workerID int) {
			logger.Infof("Worker %d started", workerID)
			for job := range jobQueue {
				logger.Infof("Worker %d processing job: %s", workerID, job.ID)
				processJob(app, job)
			}
		}(i)
	}
}

// safeFileName keeps only the last path element of a file ID and strips
// characters that are unsafe on common filesystems.
func safeFileName(fileID string) string {
	name := fileID
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.Map(func(r rune) rune {
		switch r {
		case ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	if name == "" {
		name = "download"
	}
	return name
}

func processJob(app *App, job *Job) {
	if current, exists := jobStore.getJob(job.ID); exists && current.Status == "cancelled" {
		logger.Infof("Skipping cancelled job: %s", job.ID)
		return
	}

	jobStore.updateJobStatus(job.ID, "in_progress", "")

	jobCtx, cancel := context.WithCancel(context.Background())
	jobCancellersMu.Lock()
	jobCancellers[job.ID] = cancel
	jobCancellersMu.Unlock()
	defer func() {
		cancel()
		jobCancellersMu.Lock()
		delete(jobCancellers, job.ID)
		jobCancellersMu.Unlock()
	}()

	drive, err := app.buildDrive(job.Provider)
	if err != nil {
		logger.Errorf("Failed to build drive for job %s: %v", job.ID, err)
		jobStore.updateJobStatus(job.ID, "failed", err.Error())
		return
	}

	if err := os.MkdirAll(app.downloadDir, os.ModePerm); err != nil {
		logger.Errorf("Failed to create download directory for job %s: %v", job.ID, err)
		jobStore.updateJobStatus(job.ID, "failed", err.Error())
		return
	}

	fileName := safeFileName(job.FileID)
	outputPath := filepath.Join(app.downloadDir, fmt.Sprintf("%s_%s", job.ID, fileName))

	out, err := os.Create(outputPath)
	if err != nil {
		logger.Errorf("Failed to create output file for job %s: %v", job.ID, err)
		jobStore.updateJobStatus(job.ID, "failed", err.Error())
		return
	}

	var bytesDone int64
	info, err := drive.DownloadFile(jobCtx, datasource.DownloadRequest{FileID: job.FileID}, func(chunk datasource.Chunk) error {
		if _, werr := out.Write(chunk.Data); werr != nil {
			return werr
		}
		bytesDone += int64(len(chunk.Data))
		jobStore.updateProgress(job.ID, bytesDone, 0, fileName, "")
		return nil
	})
	closeErr := out.Close()

	if err != nil {
		os.Remove(outputPath)
		if jobCtx.Err() == context.Canceled {
			jobStore.updateJobStatus(job.ID, "cancelled", "Job cancelled by user")
			logger.Infof("Job cancelled: %s", job.ID)
		} else {
			logger.Errorf("Error downloading file for job %s: %v", job.ID, err)
			jobStore.updateJobStatus(job.ID, "failed", err.Error())
		}
		return
	}
	if closeErr != nil {
		jobStore.updateJobStatus(job.ID, "failed", closeErr.Error())
		return
	}

	jobStore.updateProgress(job.ID, bytesDone, info.Size, info.Name, info.ContentType)
	jobStore.updateJobStatus(job.ID, "completed", outputPath)
	logger.Infof("Job completed: %s (%d bytes)", job.ID, bytesDone)
}
