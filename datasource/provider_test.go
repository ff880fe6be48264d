package datasource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOnlineDrive(t *testing.T) {
	drive, err := NewOnlineDrive(Config{
		Provider: "azure_blob",
		Credentials: Credentials{
			"account_name": "mystorageacct",
			"account_key":  testAccountKey,
		},
	})
	require.NoError(t, err)
	assert.IsType(t, &AzureBlobDrive{}, drive)

	_, err = NewOnlineDrive(Config{Provider: "gopher_drive"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported online-drive datasource")
}

func TestNewOnlineDocument(t *testing.T) {
	doc, err := NewOnlineDocument(Config{
		Provider:    "teams",
		Credentials: Credentials{"access_token": "token"},
	})
	require.NoError(t, err)
	assert.IsType(t, &TeamsDocument{}, doc)

	_, err = NewOnlineDocument(Config{Provider: "wiki"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported online-document datasource")
}

func TestCredentialsGetDefault(t *testing.T) {
	creds := Credentials{"auth_method": "sas_token", "empty": ""}
	assert.Equal(t, "sas_token", creds.GetDefault("auth_method", "account_key"))
	assert.Equal(t, "fallback", creds.GetDefault("empty", "fallback"))
	assert.Equal(t, "fallback", creds.GetDefault("missing", "fallback"))
}
