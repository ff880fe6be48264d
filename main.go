package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"slate-connect/datasource"
	"slate-connect/tool"
)

// Global Variables and Constants
var (

	// Logger
	log = logrus.New()

	// Environment Variables
	listenAddr            = os.Getenv("LISTEN_ADDR")
	downloadDir           = os.Getenv("DOWNLOAD_DIR")
	downloadWorkersEnv    = os.Getenv("DOWNLOAD_WORKERS")
	revalidateIntervalEnv = os.Getenv("REVALIDATION_INTERVAL")
	logLevel              = strings.ToLower(os.Getenv("LOG_LEVEL"))
)

// App struct to hold dependencies
type App struct {
	Database    *gorm.DB
	downloadDir string
}

func main() {
	// Load .env file if present; real environment variables win
	if err := godotenv.Load(); err == nil {
		log.Infoln("Loaded environment from .env file")
	}
	refreshEnvVars()

	// Validate Environment Variables
	validateEnvVars()

	// Initialize logrus logger
	initLogger()

	// Initialize Database
	database := InitializeDB()

	// Initialize App with dependencies
	app := &App{
		Database:    database,
		downloadDir: downloadDir,
	}

	// Start background credential revalidation
	StartBackgroundTasks(context.Background(), app, revalidationInterval())

	// Create a Gin router with default middleware (logger and recovery)
	router := gin.Default()

	// API routes
	api := router.Group("/api")
	{
		api.GET("/providers", app.listProvidersHandler)
		api.PUT("/providers/:provider/credentials", app.saveCredentialsHandler)
		api.GET("/providers/:provider/credentials", app.getCredentialsHandler)
		api.POST("/providers/:provider/validate", app.validateProviderHandler)
		api.GET("/providers/:provider/validations", app.validationHistoryHandler)

		// Online drive endpoints
		api.GET("/providers/:provider/browse", app.browseFilesHandler)
		api.POST("/providers/:provider/download", app.submitDownloadJobHandler)

		// Online document endpoints
		api.GET("/providers/:provider/pages", app.getPagesHandler)
		api.GET("/providers/:provider/pages/content", app.getPageContentHandler)

		// Download job endpoints
		api.GET("/jobs/download/:job_id", app.getJobStatusHandler)
		api.GET("/jobs/download", app.getAllJobsHandler)
		api.POST("/jobs/download/:job_id/cancel", app.cancelJobHandler)

		// Tool endpoints
		api.POST("/tools/:provider/:tool/invoke", app.invokeToolHandler)
	}

	// Start download worker pool
	startWorkerPool(app, downloadWorkers())

	log.Infof("Server started on %s", listenAddr)
	if err := router.Run(listenAddr); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}

// refreshEnvVars re-reads the environment after godotenv has loaded .env
func refreshEnvVars() {
	listenAddr = os.Getenv("LISTEN_ADDR")
	downloadDir = os.Getenv("DOWNLOAD_DIR")
	downloadWorkersEnv = os.Getenv("DOWNLOAD_WORKERS")
	revalidateIntervalEnv = os.Getenv("REVALIDATION_INTERVAL")
	logLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))

	if listenAddr == "" {
		listenAddr = ":8080"
	}
	if downloadDir == "" {
		downloadDir = "downloads"
	}
}

func downloadWorkers() int {
	if downloadWorkersEnv == "" {
		return 2
	}
	workers, err := strconv.Atoi(downloadWorkersEnv)
	if err != nil || workers < 1 {
		return 2
	}
	return workers
}

func revalidationInterval() time.Duration {
	if revalidateIntervalEnv == "" {
		return 30 * time.Minute
	}
	interval, err := time.ParseDuration(revalidateIntervalEnv)
	if err != nil {
		return 30 * time.Minute
	}
	return interval
}

func initLogger() {
	switch logLevel {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		if logLevel != "" {
			log.Fatalf("Invalid log level: '%s'.", logLevel)
		}
	}

	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	datasource.SetLogLevel(log.GetLevel())
	tool.SetLogLevel(log.GetLevel())
}

// validateEnvVars ensures all necessary environment variables are sane
func validateEnvVars() {
	if downloadWorkersEnv != "" {
		if workers, err := strconv.Atoi(downloadWorkersEnv); err != nil || workers < 1 {
			log.Fatalf("Invalid DOWNLOAD_WORKERS value: '%s'.", downloadWorkersEnv)
		}
	}

	if revalidateIntervalEnv != "" {
		if _, err := time.ParseDuration(revalidateIntervalEnv); err != nil {
			log.Fatalf("Invalid REVALIDATION_INTERVAL value: '%s'.", revalidateIntervalEnv)
		}
	}
}
