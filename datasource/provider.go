package datasource

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Config holds the datasource provider configuration
type Config struct {
	// Provider type (e.g., "azure_blob", "teams")
	Provider string

	// Credentials as entered by the operator
	Credentials Credentials

	// Azure Blob settings
	AzureEndpointSuffix string // Optional, defaults to "core.windows.net"

	// Teams settings
	GraphBaseURL string // Optional, defaults to the public Graph endpoint
}

// NewOnlineDrive creates a new online-drive datasource based on configuration
func NewOnlineDrive(config Config) (OnlineDrive, error) {
	log.Info("Initializing online-drive datasource: ", config.Provider)

	switch config.Provider {
	case "azure_blob":
		log.WithFields(logrus.Fields{
			"account":     config.Credentials.Get("account_name"),
			"auth_method": config.Credentials.GetDefault("auth_method", "account_key"),
		}).Info("Using Azure Blob Storage datasource")
		return newAzureBlobDrive(config)

	default:
		return nil, fmt.Errorf("unsupported online-drive datasource: %s", config.Provider)
	}
}

// NewOnlineDocument creates a new online-document datasource based on configuration
func NewOnlineDocument(config Config) (OnlineDocument, error) {
	log.Info("Initializing online-document datasource: ", config.Provider)

	switch config.Provider {
	case "teams":
		log.Info("Using Microsoft Teams datasource")
		return newTeamsDocument(config)

	default:
		return nil, fmt.Errorf("unsupported online-document datasource: %s", config.Provider)
	}
}
