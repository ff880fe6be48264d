package datasource

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAccountKey = base64.StdEncoding.EncodeToString([]byte("secret-storage-key"))

func testDriveConfig(creds Credentials) Config {
	return Config{Provider: "azure_blob", Credentials: creds}
}

func TestNewAzureBlobDrive(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantErr string
	}{
		{
			name: "valid account key",
			creds: Credentials{
				"account_name": "mystorageacct",
				"account_key":  testAccountKey,
			},
		},
		{
			name: "missing account key",
			creds: Credentials{
				"account_name": "mystorageacct",
			},
			wantErr: "account key is required",
		},
		{
			name: "account key not base64",
			creds: Credentials{
				"account_name": "mystorageacct",
				"account_key":  "not!!base64",
			},
			wantErr: "not valid base64",
		},
		{
			name: "valid sas token",
			creds: Credentials{
				"auth_method":  "sas_token",
				"account_name": "mystorageacct",
				"sas_token":    "?sv=2021-08-06&ss=b&sig=abc123",
			},
		},
		{
			name: "missing sas token",
			creds: Credentials{
				"auth_method":  "sas_token",
				"account_name": "mystorageacct",
			},
			wantErr: "SAS token is required",
		},
		{
			name: "valid connection string",
			creds: Credentials{
				"auth_method":       "connection_string",
				"connection_string": fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=csacct;AccountKey=%s;EndpointSuffix=core.chinacloudapi.cn", testAccountKey),
			},
		},
		{
			name: "connection string missing account name",
			creds: Credentials{
				"auth_method":       "connection_string",
				"connection_string": fmt.Sprintf("AccountKey=%s", testAccountKey),
			},
			wantErr: "missing AccountName or AccountKey",
		},
		{
			name: "valid oauth token",
			creds: Credentials{
				"auth_method":  "oauth",
				"account_name": "mystorageacct",
				"access_token": "opaque-bearer-token",
			},
		},
		{
			name: "missing oauth token",
			creds: Credentials{
				"auth_method":  "oauth",
				"account_name": "mystorageacct",
			},
			wantErr: "access token is required",
		},
		{
			name: "uppercase account name rejected",
			creds: Credentials{
				"account_name": "MyStorage",
				"account_key":  testAccountKey,
			},
			wantErr: "invalid storage account name",
		},
		{
			name: "account name too short",
			creds: Credentials{
				"account_name": "ab",
				"account_key":  testAccountKey,
			},
			wantErr: "invalid storage account name",
		},
		{
			name: "unsupported auth method",
			creds: Credentials{
				"auth_method":  "kerberos",
				"account_name": "mystorageacct",
			},
			wantErr: "unsupported authentication method",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			drive, err := newAzureBlobDrive(testDriveConfig(tc.creds))
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, drive)
		})
	}
}

func TestNewAzureBlobDriveConnectionStringOverrides(t *testing.T) {
	drive, err := newAzureBlobDrive(testDriveConfig(Credentials{
		"auth_method":       "connection_string",
		"connection_string": fmt.Sprintf("AccountName=csacct;AccountKey=%s;EndpointSuffix=core.chinacloudapi.cn", testAccountKey),
	}))
	require.NoError(t, err)
	assert.Equal(t, "csacct", drive.accountName)
	assert.Equal(t, "core.chinacloudapi.cn", drive.endpointSuffix)
	assert.Equal(t, "https://csacct.blob.core.chinacloudapi.cn", drive.endpoint)
}

func TestParseConnectionString(t *testing.T) {
	name, key, suffix, err := parseConnectionString(
		fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=acct;AccountKey=%s", testAccountKey))
	require.NoError(t, err)
	assert.Equal(t, "acct", name)
	assert.Equal(t, []byte("secret-storage-key"), key)
	assert.Empty(t, suffix)

	_, _, _, err = parseConnectionString("AccountName=acct;AccountKey=%%%")
	assert.Error(t, err)
}

func TestEscapeBlobPath(t *testing.T) {
	assert.Equal(t, "docs/report%202024.pdf", escapeBlobPath("docs/report 2024.pdf"))
	assert.Equal(t, "plain/file.txt", escapeBlobPath("plain/file.txt"))
}

// newTestDrive builds a drive pointed at a local test server
func newTestDrive(t *testing.T, server *httptest.Server) *AzureBlobDrive {
	t.Helper()
	drive, err := newAzureBlobDrive(testDriveConfig(Credentials{
		"account_name": "testaccount",
		"account_key":  testAccountKey,
	}))
	require.NoError(t, err)
	drive.endpoint = server.URL
	drive.httpClient.RetryMax = 0
	return drive
}

func TestAzureBlobValidate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, storageAPIVersion, r.Header.Get("x-ms-version"))
		assert.NotEmpty(t, r.Header.Get("x-ms-date"))
		auth := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(auth, "SharedKey testaccount:"), "unexpected Authorization header: %s", auth)
		assert.Equal(t, "list", r.URL.Query().Get("comp"))
		assert.Equal(t, "1", r.URL.Query().Get("maxresults"))

		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?>
<EnumerationResults><Containers></Containers><NextMarker/></EnumerationResults>`)
	}))
	defer server.Close()

	drive := newTestDrive(t, server)
	assert.NoError(t, drive.Validate(context.Background()))
}

func TestAzureBlobValidateAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?>
<Error><Code>AuthenticationFailed</Code><Message>Server failed to authenticate the request.</Message></Error>`)
	}))
	defer server.Close()

	drive := newTestDrive(t, server)
	err := drive.Validate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAzureBlobListContainers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?>
<EnumerationResults>
  <Containers>
    <Container>
      <Name>documents</Name>
      <Properties>
        <Last-Modified>Wed, 01 Jan 2025 10:00:00 GMT</Last-Modified>
        <Etag>"0x8DC1"</Etag>
      </Properties>
    </Container>
    <Container>
      <Name>backups</Name>
      <Properties>
        <Last-Modified>Thu, 02 Jan 2025 10:00:00 GMT</Last-Modified>
        <Etag>"0x8DC2"</Etag>
        <PublicAccess>blob</PublicAccess>
      </Properties>
    </Container>
  </Containers>
  <NextMarker>marker-2</NextMarker>
</EnumerationResults>`)
	}))
	defer server.Close()

	drive := newTestDrive(t, server)
	resp, err := drive.BrowseFiles(context.Background(), BrowseRequest{})
	require.NoError(t, err)

	require.Len(t, resp.Files, 2)
	assert.Equal(t, "documents", resp.Files[0].Name)
	assert.Equal(t, "folder", resp.Files[0].Type)
	assert.Equal(t, "none", resp.Files[0].Metadata["public_access"])
	assert.Equal(t, "blob", resp.Files[1].Metadata["public_access"])
	assert.True(t, resp.Truncated)
	assert.Equal(t, "marker-2", resp.NextPageToken)
}

func TestAzureBlobListBlobsCollapsesDirectories(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/documents", r.URL.Path)
		assert.Equal(t, "container", r.URL.Query().Get("restype"))
		assert.Equal(t, "/", r.URL.Query().Get("delimiter"))

		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?>
<EnumerationResults>
  <Prefix></Prefix>
  <Blobs>
    <BlobPrefix><Name>reports/</Name></BlobPrefix>
    <BlobPrefix><Name>reports/2024/</Name></BlobPrefix>
    <Blob>
      <Name>readme.md</Name>
      <Properties>
        <Content-Length>512</Content-Length>
        <Content-Type>text/markdown</Content-Type>
        <Last-Modified>Wed, 01 Jan 2025 10:00:00 GMT</Last-Modified>
        <AccessTier>Hot</AccessTier>
      </Properties>
    </Blob>
    <Blob>
      <Name>reports/q1.pdf</Name>
      <Properties>
        <Content-Length>2048</Content-Length>
        <Content-Type>application/pdf</Content-Type>
      </Properties>
    </Blob>
  </Blobs>
  <NextMarker/>
</EnumerationResults>`)
	}))
	defer server.Close()

	drive := newTestDrive(t, server)
	resp, err := drive.BrowseFiles(context.Background(), BrowseRequest{Bucket: "documents"})
	require.NoError(t, err)

	// One collapsed directory plus the top-level blob; reports/q1.pdf is
	// carried by its directory entry.
	require.Len(t, resp.Files, 2)

	assert.Equal(t, "reports", resp.Files[0].Name)
	assert.Equal(t, "folder", resp.Files[0].Type)
	assert.Equal(t, "documents/reports/", resp.Files[0].ID)

	assert.Equal(t, "readme.md", resp.Files[1].Name)
	assert.Equal(t, "file", resp.Files[1].Type)
	assert.Equal(t, int64(512), resp.Files[1].Size)
	assert.Equal(t, "documents/readme.md", resp.Files[1].ID)
	assert.Equal(t, "Hot", resp.Files[1].Metadata["blob_tier"])
	assert.False(t, resp.Truncated)
}

func TestAzureBlobBrowseResolvesContainerFromPrefix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			// container existence probe
			assert.Equal(t, "/documents", r.URL.Path)
			w.WriteHeader(http.StatusOK)
			return
		}
		assert.Equal(t, "/documents", r.URL.Path)
		assert.Equal(t, "reports/", r.URL.Query().Get("prefix"))
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?>
<EnumerationResults>
  <Prefix>reports/</Prefix>
  <Blobs>
    <Blob>
      <Name>reports/q1.pdf</Name>
      <Properties><Content-Length>2048</Content-Length></Properties>
    </Blob>
  </Blobs>
  <NextMarker/>
</EnumerationResults>`)
	}))
	defer server.Close()

	drive := newTestDrive(t, server)
	resp, err := drive.BrowseFiles(context.Background(), BrowseRequest{Prefix: "documents/reports/"})
	require.NoError(t, err)

	require.Len(t, resp.Files, 1)
	assert.Equal(t, "q1.pdf", resp.Files[0].Name)
	assert.Equal(t, "documents", resp.Bucket)
}

func TestAzureBlobListBlobsContainerNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?>
<Error><Code>ContainerNotFound</Code><Message>The specified container does not exist.</Message></Error>`)
	}))
	defer server.Close()

	drive := newTestDrive(t, server)
	_, err := drive.BrowseFiles(context.Background(), BrowseRequest{Bucket: "missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAzureBlobDownloadFile(t *testing.T) {
	content := []byte("%PDF-1.7 test document content")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/documents/reports/q1.pdf", r.URL.Path)
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprint(len(content)))
			w.Header().Set("Content-Type", "application/pdf")
			w.Header().Set("x-ms-access-tier", "Hot")
			return
		}
		w.Write(content)
	}))
	defer server.Close()

	drive := newTestDrive(t, server)

	var chunks []Chunk
	info, err := drive.DownloadFile(context.Background(), DownloadRequest{FileID: "documents/reports/q1.pdf"}, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "q1.pdf", info.Name)
	assert.Equal(t, "application/pdf", info.ContentType)
	assert.Equal(t, int64(len(content)), info.Size)

	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Data)
	assert.False(t, chunks[0].Partial)
}

func TestAzureBlobDownloadFileDetectsContentType(t *testing.T) {
	content := []byte("%PDF-1.7 content without a declared type")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprint(len(content)))
			w.Header().Set("Content-Type", "application/octet-stream")
			return
		}
		w.Write(content)
	}))
	defer server.Close()

	drive := newTestDrive(t, server)
	info, err := drive.DownloadFile(context.Background(), DownloadRequest{FileID: "documents/file.pdf"}, func(Chunk) error { return nil })
	require.NoError(t, err)
	assert.Contains(t, info.ContentType, "application/pdf")
}

func TestAzureBlobDownloadFileRejectsArchiveTier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1024")
		w.Header().Set("x-ms-access-tier", "Archive")
	}))
	defer server.Close()

	drive := newTestDrive(t, server)
	_, err := drive.DownloadFile(context.Background(), DownloadRequest{FileID: "documents/frozen.bin"}, func(Chunk) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Archive tier")
}

func TestAzureBlobDownloadFileInvalidID(t *testing.T) {
	drive, err := newAzureBlobDrive(testDriveConfig(Credentials{
		"account_name": "testaccount",
		"account_key":  testAccountKey,
	}))
	require.NoError(t, err)

	_, err = drive.DownloadFile(context.Background(), DownloadRequest{FileID: "no-slash"}, func(Chunk) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid file ID format")
}
