package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"slate-connect/datasource"
	"slate-connect/tool"
)

// respondProviderError maps connector errors to HTTP statuses. Rejected
// credentials are the caller's fault (422), throttling is reported as 429
// with a Retry-After header, everything else from the remote side is 502.
func respondProviderError(c *gin.Context, err error) {
	var dsRateErr *datasource.RateLimitError
	var toolRateErr *tool.RateLimitError

	switch {
	case errors.Is(err, datasource.ErrInvalidCredentials), errors.Is(err, tool.ErrInvalidCredentials):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, tool.ErrInvalidParams):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, datasource.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &dsRateErr):
		c.Header("Retry-After", strconv.Itoa(dsRateErr.RetryAfterSeconds))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.As(err, &toolRateErr):
		c.Header("Retry-After", strconv.Itoa(toolRateErr.RetryAfterSeconds))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// listProvidersHandler handles the GET /api/providers endpoint
func (app *App) listProvidersHandler(c *gin.Context) {
	records, err := ListCredentialRecords(app.Database)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Error listing credentials: %v", err)})
		log.Errorf("Error listing credentials: %v", err)
		return
	}

	configured := make(map[string]bool, len(records))
	for _, record := range records {
		configured[record.Provider] = true
	}

	providers := make([]ProviderInfo, 0, len(providerCatalog))
	for _, info := range providerCatalog {
		info.Configured = configured[info.Name] || !requiresCredentials(info.Name)
		providers = append(providers, info)
	}

	c.JSON(http.StatusOK, providers)
}

// saveCredentialsHandler handles the PUT /api/providers/:provider/credentials endpoint
func (app *App) saveCredentialsHandler(c *gin.Context) {
	provider := c.Param("provider")
	if _, ok := catalogEntry(provider); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Unknown provider: %s", provider)})
		return
	}

	var req SaveCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
		return
	}
	if len(req.Credentials) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Credentials must not be empty"})
		return
	}

	if err := SaveCredentials(app.Database, provider, req.Credentials); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Error saving credentials: %v", err)})
		log.Errorf("Error saving credentials for %s: %v", provider, err)
		return
	}

	log.Infof("Stored credentials for provider %s", provider)
	c.Status(http.StatusOK)
}

// getCredentialsHandler handles the GET /api/providers/:provider/credentials
// endpoint. Values are masked; full secrets never leave the database.
func (app *App) getCredentialsHandler(c *gin.Context) {
	provider := c.Param("provider")

	creds, record, err := GetCredentials(app.Database, provider)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("No credentials stored for provider: %s", provider)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Error loading credentials: %v", err)})
		log.Errorf("Error loading credentials for %s: %v", provider, err)
		return
	}

	c.JSON(http.StatusOK, CredentialsResponse{
		Provider:    provider,
		Credentials: maskCredentials(creds),
		UpdatedAt:   record.UpdatedAt,
	})
}

// validateProviderHandler handles the POST /api/providers/:provider/validate endpoint
func (app *App) validateProviderHandler(c *gin.Context) {
	provider := c.Param("provider")
	ctx := c.Request.Context()

	response, err := app.validateProvider(ctx, provider)
	if err != nil {
		var dsRateErr *datasource.RateLimitError
		var toolRateErr *tool.RateLimitError
		switch {
		case errors.Is(err, datasource.ErrInvalidCredentials), errors.Is(err, tool.ErrInvalidCredentials):
			c.JSON(http.StatusUnprocessableEntity, response)
		case errors.As(err, &dsRateErr), errors.As(err, &toolRateErr):
			c.JSON(http.StatusTooManyRequests, response)
		default:
			c.JSON(http.StatusBadGateway, response)
		}
		return
	}

	c.JSON(http.StatusOK, response)
}

// validationHistoryHandler handles the GET /api/providers/:provider/validations endpoint
func (app *App) validationHistoryHandler(c *gin.Context) {
	provider := c.Param("provider")

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	records, err := GetValidationHistory(app.Database, provider, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Error loading validation history: %v", err)})
		log.Errorf("Error loading validation history for %s: %v", provider, err)
		return
	}

	history := make([]ValidationResponse, 0, len(records))
	for _, record := range records {
		history = append(history, ValidationResponse{
			Provider:  record.Provider,
			Valid:     record.Valid,
			Message:   record.Message,
			CheckedAt: record.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, history)
}

// browseFilesHandler handles the GET /api/providers/:provider/browse endpoint
func (app *App) browseFilesHandler(c *gin.Context) {
	provider := c.Param("provider")
	ctx := c.Request.Context()

	maxKeys := 0
	if raw := c.Query("max_keys"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid max_keys"})
			return
		}
		maxKeys = parsed
	}

	drive, err := app.buildDrive(provider)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	response, err := drive.BrowseFiles(ctx, datasource.BrowseRequest{
		Bucket:    c.Query("bucket"),
		Prefix:    c.Query("prefix"),
		MaxKeys:   maxKeys,
		PageToken: c.Query("page_token"),
	})
	if err != nil {
		respondProviderError(c, err)
		log.Errorf("Error browsing %s: %v", provider, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// getPagesHandler handles the GET /api/providers/:provider/pages endpoint
func (app *App) getPagesHandler(c *gin.Context) {
	provider := c.Param("provider")
	ctx := c.Request.Context()

	doc, err := app.buildDocument(provider)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	response, err := doc.GetPages(ctx)
	if err != nil {
		respondProviderError(c, err)
		log.Errorf("Error listing pages for %s: %v", provider, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// getPageContentHandler handles the GET /api/providers/:provider/pages/content
// endpoint. The page ID arrives as a query parameter because document page
// IDs contain colons and slashes.
func (app *App) getPageContentHandler(c *gin.Context) {
	provider := c.Param("provider")
	pageID := c.Query("page_id")
	ctx := c.Request.Context()

	if pageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page_id is required"})
		return
	}

	doc, err := app.buildDocument(provider)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	content, err := doc.GetPageContent(ctx, pageID)
	if err != nil {
		respondProviderError(c, err)
		log.Errorf("Error fetching page content for %s: %v", provider, err)
		return
	}

	c.JSON(http.StatusOK, content)
}

// submitDownloadJobHandler handles the POST /api/providers/:provider/download endpoint
func (app *App) submitDownloadJobHandler(c *gin.Context) {
	provider := c.Param("provider")

	info, ok := catalogEntry(provider)
	if !ok || info.Kind != kindOnlineDrive {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Provider %s does not support downloads", provider)})
		return
	}

	var req SubmitDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
		return
	}
	if req.FileID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_id is required"})
		return
	}

	job := &Job{
		ID:        generateJobID(),
		Provider:  provider,
		FileID:    req.FileID,
		Status:    "pending",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	jobStore.addJob(job)

	select {
	case jobQueue <- job:
		c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
	default:
		jobStore.updateJobStatus(job.ID, "failed", "Download queue is full")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Download queue is full"})
	}
}

// getJobStatusHandler handles the GET /api/jobs/download/:job_id endpoint
func (app *App) getJobStatusHandler(c *gin.Context) {
	jobID := c.Param("job_id")

	job, exists := jobStore.getJob(jobID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	c.JSON(http.StatusOK, jobStore.jobResponse(job))
}

// getAllJobsHandler handles the GET /api/jobs/download endpoint
func (app *App) getAllJobsHandler(c *gin.Context) {
	jobs := jobStore.GetAllJobs()

	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, jobStore.jobResponse(job))
	}

	c.JSON(http.StatusOK, responses)
}

// cancelJobHandler handles the POST /api/jobs/download/:job_id/cancel endpoint
func (app *App) cancelJobHandler(c *gin.Context) {
	jobID := c.Param("job_id")

	job, exists := jobStore.getJob(jobID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	if job.Status == "completed" || job.Status == "failed" || job.Status == "cancelled" {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Job is already %s", job.Status)})
		return
	}

	jobCancellersMu.Lock()
	cancel, running := jobCancellers[jobID]
	jobCancellersMu.Unlock()

	if running {
		cancel()
	} else {
		// Still queued; mark it cancelled so the worker skips it
		jobStore.updateJobStatus(jobID, "cancelled", "Job cancelled by user")
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

// invokeToolHandler handles the POST /api/tools/:provider/:tool/invoke endpoint
func (app *App) invokeToolHandler(c *gin.Context) {
	provider := c.Param("provider")
	toolName := c.Param("tool")
	ctx := c.Request.Context()

	var req InvokeToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
		return
	}

	selected, err := app.findTool(provider, toolName)
	if err != nil {
		if errors.Is(err, tool.ErrInvalidCredentials) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	messages, err := selected.Invoke(ctx, req.Params)
	if err != nil {
		respondProviderError(c, err)
		log.Errorf("Error invoking tool %s/%s: %v", provider, toolName, err)
		return
	}

	c.JSON(http.StatusOK, InvokeToolResponse{
		Provider: provider,
		Tool:     toolName,
		Messages: messages,
	})
}
