package datasource

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

const (
	storageAPIVersion     = "2021-08-06"
	defaultEndpointSuffix = "core.windows.net"
	defaultMaxKeys        = 100

	smallDownloadLimit = 50 * 1024 * 1024  // single GET below this
	downloadChunkSize  = 8 * 1024 * 1024   // ranged read size for large blobs
	partialFlushSize   = 100 * 1024 * 1024 // emit a partial chunk once buffered past this
)

var accountNameRe = regexp.MustCompile(`^[a-z0-9]{3,24}$`)

// AzureBlobDrive implements OnlineDrive against the Azure Blob Storage REST API.
// Supported auth methods: account_key (SharedKey request signing), sas_token,
// connection_string and oauth (bearer token).
type AzureBlobDrive struct {
	accountName    string
	endpointSuffix string
	authMethod     string
	accountKey     []byte     // decoded, for SharedKey signing
	sasParams      url.Values // for sas_token auth
	accessToken    string     // for oauth auth
	tokenExpiry    time.Time
	endpoint       string
	httpClient     *retryablehttp.Client
}

func newAzureBlobDrive(config Config) (*AzureBlobDrive, error) {
	creds := config.Credentials
	authMethod := creds.GetDefault("auth_method", "account_key")
	accountName := creds.Get("account_name")
	endpointSuffix := creds.GetDefault("endpoint_suffix", config.AzureEndpointSuffix)
	if endpointSuffix == "" {
		endpointSuffix = defaultEndpointSuffix
	}

	d := &AzureBlobDrive{
		accountName:    accountName,
		endpointSuffix: endpointSuffix,
		authMethod:     authMethod,
	}

	switch authMethod {
	case "account_key":
		key := strings.TrimSpace(creds.Get("account_key"))
		if key == "" {
			return nil, fmt.Errorf("%w: account key is required when using account key authentication", ErrInvalidCredentials)
		}
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("%w: account key is not valid base64", ErrInvalidCredentials)
		}
		d.accountKey = decoded

	case "sas_token":
		sas := strings.TrimSpace(creds.Get("sas_token"))
		if sas == "" {
			return nil, fmt.Errorf("%w: SAS token is required when using SAS token authentication", ErrInvalidCredentials)
		}
		params, err := url.ParseQuery(strings.TrimPrefix(sas, "?"))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid SAS token format", ErrInvalidCredentials)
		}
		d.sasParams = params

	case "connection_string":
		cs := strings.TrimSpace(creds.Get("connection_string"))
		if cs == "" {
			return nil, fmt.Errorf("%w: connection string is required when using connection string authentication", ErrInvalidCredentials)
		}
		name, key, suffix, err := parseConnectionString(cs)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		d.accountName = name
		d.accountKey = key
		if suffix != "" {
			d.endpointSuffix = suffix
		}

	case "oauth":
		token := strings.TrimSpace(creds.Get("access_token"))
		if token == "" {
			return nil, fmt.Errorf("%w: access token is required, please complete OAuth authorization first", ErrInvalidCredentials)
		}
		d.accessToken = token
		d.tokenExpiry = bearerTokenExpiry(token)

	default:
		return nil, fmt.Errorf("unsupported authentication method: %s", authMethod)
	}

	if !accountNameRe.MatchString(d.accountName) {
		return nil, fmt.Errorf("%w: invalid storage account name, must be 3-24 characters, lowercase letters and numbers only", ErrInvalidCredentials)
	}

	d.endpoint = fmt.Sprintf("https://%s.blob.%s", d.accountName, d.endpointSuffix)

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 5 * time.Second
	client.Logger = log.WithFields(logrus.Fields{
		"datasource": "azure_blob",
		"account":    d.accountName,
	})
	d.httpClient = client

	return d, nil
}

// parseConnectionString extracts account name, decoded key and endpoint suffix
func parseConnectionString(cs string) (string, []byte, string, error) {
	var name, key, suffix string
	for _, part := range strings.Split(cs, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return "", nil, "", fmt.Errorf("invalid connection string format")
		}
		switch k {
		case "AccountName":
			name = v
		case "AccountKey":
			key = v
		case "EndpointSuffix":
			suffix = v
		}
	}
	if name == "" || key == "" {
		return "", nil, "", fmt.Errorf("connection string is missing AccountName or AccountKey")
	}
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", nil, "", fmt.Errorf("connection string AccountKey is not valid base64")
	}
	return name, decoded, suffix, nil
}

// bearerTokenExpiry reads the exp claim without verifying the signature. The
// zero time means the expiry could not be determined.
func bearerTokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// do performs a signed request against the Blob service
func (d *AzureBlobDrive) do(ctx context.Context, method, resourcePath string, query url.Values, extraHeaders map[string]string) (*http.Response, error) {
	if query == nil {
		query = url.Values{}
	}
	if d.authMethod == "sas_token" {
		for k, vs := range d.sasParams {
			for _, v := range vs {
				query.Set(k, v)
			}
		}
	}

	requestURL := d.endpoint + resourcePath
	if encoded := query.Encode(); encoded != "" {
		requestURL += "?" + encoded
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}

	req.Header.Set("x-ms-version", storageAPIVersion)
	req.Header.Set("x-ms-date", time.Now().UTC().Format(http.TimeFormat))
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	switch d.authMethod {
	case "account_key", "connection_string":
		d.signSharedKey(req.Request, resourcePath, query)
	case "oauth":
		if !d.tokenExpiry.IsZero() && time.Until(d.tokenExpiry) < 5*time.Minute {
			return nil, fmt.Errorf("%w: access token has expired, refresh required", ErrInvalidCredentials)
		}
		req.Header.Set("Authorization", "Bearer "+d.accessToken)
	}

	return d.httpClient.Do(req)
}

// signSharedKey sets the SharedKey Authorization header on req
func (d *AzureBlobDrive) signSharedKey(req *http.Request, resourcePath string, query url.Values) {
	// Canonicalized x-ms-* headers, lowercased and sorted
	var msHeaders []string
	for name := range req.Header {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-ms-") {
			msHeaders = append(msHeaders, lower+":"+req.Header.Get(name))
		}
	}
	sort.Strings(msHeaders)

	// Canonicalized resource: /account/path plus sorted query parameters
	resource := "/" + d.accountName + resourcePath
	var params []string
	for name := range query {
		params = append(params, strings.ToLower(name))
	}
	sort.Strings(params)
	for _, name := range params {
		values := query[name]
		sort.Strings(values)
		resource += "\n" + name + ":" + strings.Join(values, ",")
	}

	stringToSign := strings.Join([]string{
		req.Method,
		"", // Content-Encoding
		"", // Content-Language
		"", // Content-Length (empty when zero)
		"", // Content-MD5
		"", // Content-Type
		"", // Date (x-ms-date is used instead)
		"", // If-Modified-Since
		"", // If-Match
		"", // If-None-Match
		"", // If-Unmodified-Since
		"", // Range (x-ms-range is canonicalized above)
		strings.Join(msHeaders, "\n") + "\n" + resource,
	}, "\n")

	mac := hmac.New(sha256.New, d.accountKey)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	req.Header.Set("Authorization", fmt.Sprintf("SharedKey %s:%s", d.accountName, signature))
}

// Validate checks the configured credentials by listing a single container
func (d *AzureBlobDrive) Validate(ctx context.Context) error {
	query := url.Values{}
	query.Set("comp", "list")
	query.Set("maxresults", "1")

	resp, err := d.do(ctx, "GET", "/", query, nil)
	if err != nil {
		return fmt.Errorf("failed to validate Azure Blob Storage credentials: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return d.storageErrorFromResponse(resp)
}

// storageErrorFromResponse maps a Blob service error response to a package error
func (d *AzureBlobDrive) storageErrorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var svcErr storageError
	_ = xml.Unmarshal(body, &svcErr)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden,
		svcErr.Code == "AuthenticationFailed", svcErr.Code == "AuthorizationPermissionMismatch":
		return fmt.Errorf("%w: authentication failed (%s)", ErrInvalidCredentials, svcErr.Code)
	case svcErr.Code == "AccountIsDisabled":
		return fmt.Errorf("%w: storage account is disabled", ErrInvalidCredentials)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, svcErr.Code)
	default:
		return fmt.Errorf("azure storage error: status %d %s %s", resp.StatusCode, svcErr.Code, svcErr.Message)
	}
}

// BrowseFiles lists containers (empty bucket) or blobs within a container
func (d *AzureBlobDrive) BrowseFiles(ctx context.Context, req BrowseRequest) (*BrowseResponse, error) {
	bucket := req.Bucket
	prefix := req.Prefix
	maxKeys := req.MaxKeys
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}

	// A path like "container-name/dir/" may arrive entirely in the prefix;
	// resolve the first segment as the container when the bucket is empty.
	if bucket == "" && prefix != "" {
		parts := strings.SplitN(strings.Trim(prefix, "/"), "/", 2)
		if d.containerExists(ctx, parts[0]) {
			bucket = parts[0]
			prefix = ""
			if len(parts) > 1 {
				prefix = parts[1] + "/"
			}
		}
	}

	if bucket == "" {
		return d.listContainers(ctx, maxKeys, req.PageToken)
	}
	return d.listBlobs(ctx, bucket, prefix, maxKeys, req.PageToken)
}

func (d *AzureBlobDrive) containerExists(ctx context.Context, name string) bool {
	query := url.Values{}
	query.Set("restype", "container")
	resp, err := d.do(ctx, "HEAD", "/"+name, query, nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (d *AzureBlobDrive) listContainers(ctx context.Context, maxKeys int, marker string) (*BrowseResponse, error) {
	query := url.Values{}
	query.Set("comp", "list")
	query.Set("maxresults", strconv.Itoa(maxKeys))
	if marker != "" {
		query.Set("marker", marker)
	}

	resp, err := d.do(ctx, "GET", "/", query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, d.storageErrorFromResponse(resp)
	}

	var listing containerEnumeration
	if err := xml.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("error decoding container listing: %w", err)
	}

	files := make([]File, 0, len(listing.Containers))
	for _, c := range listing.Containers {
		files = append(files, File{
			ID:   c.Name,
			Name: c.Name,
			Size: 0,
			Type: "folder",
			Metadata: map[string]string{
				"container_name": c.Name,
				"last_modified":  c.Properties.LastModified,
				"etag":           c.Properties.Etag,
				"public_access":  firstNonEmpty(c.Properties.PublicAccess, "none"),
			},
		})
	}

	return &BrowseResponse{
		Bucket:        "",
		Files:         files,
		Truncated:     listing.NextMarker != "",
		NextPageToken: listing.NextMarker,
	}, nil
}

func (d *AzureBlobDrive) listBlobs(ctx context.Context, container, prefix string, maxKeys int, marker string) (*BrowseResponse, error) {
	query := url.Values{}
	query.Set("restype", "container")
	query.Set("comp", "list")
	query.Set("delimiter", "/")
	query.Set("maxresults", strconv.Itoa(maxKeys))
	if prefix != "" {
		query.Set("prefix", prefix)
	}
	if marker != "" {
		query.Set("marker", marker)
	}

	resp, err := d.do(ctx, "GET", "/"+container, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs in container %q: %w", container, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: container %q", ErrNotFound, container)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, d.storageErrorFromResponse(resp)
	}

	var listing blobEnumeration
	if err := xml.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("error decoding blob listing: %w", err)
	}

	files := make([]File, 0, len(listing.Prefixes)+len(listing.Blobs))
	seenDirs := make(map[string]bool)

	for _, p := range listing.Prefixes {
		// Show only the first directory level below the current prefix
		dir := strings.TrimSuffix(strings.TrimPrefix(p.Name, prefix), "/")
		if i := strings.Index(dir, "/"); i >= 0 {
			dir = dir[:i]
		}
		if dir == "" || seenDirs[dir] {
			continue
		}
		seenDirs[dir] = true
		dirPath := prefix + dir + "/"
		files = append(files, File{
			ID:   container + "/" + dirPath,
			Name: dir,
			Size: 0,
			Type: "folder",
			Metadata: map[string]string{
				"container_name": container,
				"blob_path":      dirPath,
				"is_directory":   "true",
			},
		})
	}

	for _, b := range listing.Blobs {
		displayName := strings.TrimPrefix(b.Name, prefix)
		if displayName == "" || strings.Contains(displayName, "/") {
			// Deeper entries are carried by their directory item
			continue
		}
		files = append(files, File{
			ID:   container + "/" + b.Name,
			Name: displayName,
			Size: b.Properties.ContentLength,
			Type: "file",
			Metadata: map[string]string{
				"container_name":   container,
				"blob_path":        b.Name,
				"content_type":     firstNonEmpty(b.Properties.ContentType, "application/octet-stream"),
				"last_modified":    b.Properties.LastModified,
				"etag":             b.Properties.Etag,
				"blob_tier":        b.Properties.AccessTier,
				"creation_time":    b.Properties.CreationTime,
				"server_encrypted": strconv.FormatBool(b.Properties.ServerEncrypted),
			},
		})
	}

	return &BrowseResponse{
		Bucket:        container,
		Files:         files,
		Truncated:     listing.NextMarker != "",
		NextPageToken: listing.NextMarker,
	}, nil
}

// blobHead holds the properties needed to plan a download
type blobHead struct {
	size        int64
	contentType string
	accessTier  string
}

func (d *AzureBlobDrive) headBlob(ctx context.Context, container, blobPath string) (*blobHead, error) {
	resp, err := d.do(ctx, "HEAD", "/"+container+"/"+escapeBlobPath(blobPath), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: blob %q in container %q", ErrNotFound, blobPath, container)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, d.storageErrorFromResponse(resp)
	}

	size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	return &blobHead{
		size:        size,
		contentType: resp.Header.Get("Content-Type"),
		accessTier:  resp.Header.Get("x-ms-access-tier"),
	}, nil
}

// DownloadFile downloads a blob and hands its content to emit. Blobs above
// smallDownloadLimit are read in 8MB ranges and flushed in partial chunks.
func (d *AzureBlobDrive) DownloadFile(ctx context.Context, req DownloadRequest, emit func(Chunk) error) (*FileInfo, error) {
	container, blobPath, ok := strings.Cut(req.FileID, "/")
	if !ok || container == "" || blobPath == "" {
		return nil, fmt.Errorf("invalid file ID format, expected container_name/blob_path")
	}

	logger := log.WithFields(logrus.Fields{
		"datasource": "azure_blob",
		"container":  container,
		"blob":       blobPath,
	})
	logger.Info("Starting blob download")

	head, err := d.headBlob(ctx, container, blobPath)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(head.accessTier, "archive") {
		return nil, fmt.Errorf("blob %q is in Archive tier and needs to be rehydrated before download", blobPath)
	}

	info := &FileInfo{
		Name:        path.Base(blobPath),
		ContentType: head.contentType,
		Size:        head.size,
	}

	if head.size <= smallDownloadLimit {
		err = d.downloadWhole(ctx, container, blobPath, info, emit)
	} else {
		err = d.downloadRanged(ctx, container, blobPath, head.size, emit)
	}
	if err != nil {
		return nil, err
	}

	logger.WithField("size", head.size).Info("Blob download completed")
	return info, nil
}

func (d *AzureBlobDrive) downloadWhole(ctx context.Context, container, blobPath string, info *FileInfo, emit func(Chunk) error) error {
	resp, err := d.do(ctx, "GET", "/"+container+"/"+escapeBlobPath(blobPath), nil, nil)
	if err != nil {
		return fmt.Errorf("failed to download blob %q: %w", blobPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return d.storageErrorFromResponse(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read blob content: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("downloaded content is empty for blob %q", blobPath)
	}
	if info.ContentType == "" || info.ContentType == "application/octet-stream" {
		info.ContentType = mimetype.Detect(data).String()
	}
	info.Size = int64(len(data))

	return emit(Chunk{Data: data, Partial: false})
}

func (d *AzureBlobDrive) downloadRanged(ctx context.Context, container, blobPath string, size int64, emit func(Chunk) error) error {
	var buffer []byte
	var total int64

	for offset := int64(0); offset < size; offset += downloadChunkSize {
		end := offset + downloadChunkSize - 1
		if end >= size {
			end = size - 1
		}
		headers := map[string]string{
			"x-ms-range": fmt.Sprintf("bytes=%d-%d", offset, end),
		}

		resp, err := d.do(ctx, "GET", "/"+container+"/"+escapeBlobPath(blobPath), nil, headers)
		if err != nil {
			return fmt.Errorf("failed to download blob range: %w", err)
		}
		if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
			err := d.storageErrorFromResponse(resp)
			resp.Body.Close()
			return err
		}
		chunk, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read blob range: %w", err)
		}

		buffer = append(buffer, chunk...)
		total += int64(len(chunk))

		if len(buffer) >= partialFlushSize {
			if err := emit(Chunk{Data: buffer, Partial: true}); err != nil {
				return err
			}
			buffer = nil
		}
	}

	if total != size {
		return fmt.Errorf("download incomplete: expected %d bytes, got %d", size, total)
	}
	return emit(Chunk{Data: buffer, Partial: false})
}

// escapeBlobPath escapes each path segment while preserving separators
func escapeBlobPath(blobPath string) string {
	segments := strings.Split(blobPath, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
