package main

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"slate-connect/datasource"
	"slate-connect/tool"
)

const (
	kindOnlineDrive    = "online_drive"
	kindOnlineDocument = "online_document"
	kindTool           = "tool"
)

// providerCatalog lists every connector the host knows how to build.
// CredentialKeys documents what the operator is expected to paste in;
// providers validate the combination themselves.
var providerCatalog = []ProviderInfo{
	{
		Name: "azure_blob",
		Kind: kindOnlineDrive,
		CredentialKeys: []string{
			"account_name", "auth_method", "account_key", "sas_token",
			"connection_string", "access_token", "endpoint_suffix",
		},
	},
	{
		Name: "teams",
		Kind: kindOnlineDocument,
		CredentialKeys: []string{
			"access_token", "refresh_token", "client_id", "client_secret", "tenant_id",
		},
	},
	{
		Name:           "linuxdo",
		Kind:           kindTool,
		CredentialKeys: []string{"client_id", "client_secret", "api_key"},
	},
	{
		Name:           "v2ex",
		Kind:           kindTool,
		CredentialKeys: []string{},
	},
	{
		Name:           "unsplash",
		Kind:           kindTool,
		CredentialKeys: []string{"access_key"},
	},
}

func catalogEntry(provider string) (ProviderInfo, bool) {
	for _, info := range providerCatalog {
		if info.Name == provider {
			return info, true
		}
	}
	return ProviderInfo{}, false
}

// requiresCredentials reports whether a provider needs stored credentials
// before it can be built. v2ex only talks to public endpoints.
func requiresCredentials(provider string) bool {
	info, ok := catalogEntry(provider)
	return ok && len(info.CredentialKeys) > 0
}

func (app *App) loadCredentials(provider string) (map[string]string, error) {
	creds, _, err := GetCredentials(app.Database, provider)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("no credentials stored for provider %s", provider)
		}
		return nil, err
	}
	return creds, nil
}

// buildDrive constructs the online-drive datasource for a provider from
// its stored credentials.
func (app *App) buildDrive(provider string) (datasource.OnlineDrive, error) {
	info, ok := catalogEntry(provider)
	if !ok || info.Kind != kindOnlineDrive {
		return nil, fmt.Errorf("provider %s is not an online drive", provider)
	}

	creds, err := app.loadCredentials(provider)
	if err != nil {
		return nil, err
	}

	return datasource.NewOnlineDrive(datasource.Config{
		Provider:            provider,
		Credentials:         datasource.Credentials(creds),
		AzureEndpointSuffix: creds["endpoint_suffix"],
	})
}

// buildDocument constructs the online-document datasource for a provider
// from its stored credentials.
func (app *App) buildDocument(provider string) (datasource.OnlineDocument, error) {
	info, ok := catalogEntry(provider)
	if !ok || info.Kind != kindOnlineDocument {
		return nil, fmt.Errorf("provider %s is not an online document source", provider)
	}

	creds, err := app.loadCredentials(provider)
	if err != nil {
		return nil, err
	}

	return datasource.NewOnlineDocument(datasource.Config{
		Provider:    provider,
		Credentials: datasource.Credentials(creds),
	})
}

// buildToolProvider constructs a tool provider from stored credentials
func (app *App) buildToolProvider(provider string) (tool.Provider, error) {
	info, ok := catalogEntry(provider)
	if !ok || info.Kind != kindTool {
		return nil, fmt.Errorf("provider %s is not a tool provider", provider)
	}

	var creds map[string]string
	if requiresCredentials(provider) {
		loaded, err := app.loadCredentials(provider)
		if err != nil {
			return nil, err
		}
		creds = loaded
	}

	switch provider {
	case "linuxdo":
		return tool.NewLinuxDoProvider(creds["client_id"], creds["client_secret"], creds["api_key"], app.Database)
	case "v2ex":
		return tool.NewV2exProvider(), nil
	case "unsplash":
		return tool.NewUnsplashProvider(creds["access_key"])
	default:
		return nil, fmt.Errorf("unsupported tool provider: %s", provider)
	}
}

// findTool builds a provider and looks up one of its tools by name
func (app *App) findTool(provider, toolName string) (tool.Tool, error) {
	toolProvider, err := app.buildToolProvider(provider)
	if err != nil {
		return nil, err
	}
	for _, t := range toolProvider.Tools() {
		if t.Name() == toolName {
			return t, nil
		}
	}
	return nil, fmt.Errorf("provider %s has no tool named %s", provider, toolName)
}

// validateProvider builds the provider from stored credentials, runs its
// Validate probe and records the outcome.
func (app *App) validateProvider(ctx context.Context, provider string) (ValidationResponse, error) {
	info, ok := catalogEntry(provider)
	if !ok {
		return ValidationResponse{}, fmt.Errorf("unknown provider: %s", provider)
	}

	var err error
	switch info.Kind {
	case kindOnlineDrive:
		var drive datasource.OnlineDrive
		drive, err = app.buildDrive(provider)
		if err == nil {
			err = drive.Validate(ctx)
		}
	case kindOnlineDocument:
		var doc datasource.OnlineDocument
		doc, err = app.buildDocument(provider)
		if err == nil {
			err = doc.Validate(ctx)
		}
	case kindTool:
		var toolProvider tool.Provider
		toolProvider, err = app.buildToolProvider(provider)
		if err == nil {
			err = toolProvider.Validate(ctx)
		}
	}

	response := ValidationResponse{
		Provider:  provider,
		Valid:     err == nil,
		CheckedAt: time.Now(),
	}
	if err != nil {
		response.Message = err.Error()
	}

	record := ValidationRecord{
		Provider:  provider,
		Valid:     response.Valid,
		Message:   response.Message,
		CreatedAt: response.CheckedAt,
	}
	if dbErr := InsertValidation(app.Database, record); dbErr != nil {
		log.Errorf("Failed to record validation outcome for %s: %v", provider, dbErr)
	}

	return response, err
}
