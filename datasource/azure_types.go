package datasource

import "encoding/xml"

// XML shapes of the Blob service list operations

type containerEnumeration struct {
	XMLName    xml.Name         `xml:"EnumerationResults"`
	Containers []containerEntry `xml:"Containers>Container"`
	NextMarker string           `xml:"NextMarker"`
}

type containerEntry struct {
	Name       string              `xml:"Name"`
	Properties containerProperties `xml:"Properties"`
}

type containerProperties struct {
	LastModified          string `xml:"Last-Modified"`
	Etag                  string `xml:"Etag"`
	PublicAccess          string `xml:"PublicAccess"`
	HasImmutabilityPolicy bool   `xml:"HasImmutabilityPolicy"`
	HasLegalHold          bool   `xml:"HasLegalHold"`
}

type blobEnumeration struct {
	XMLName    xml.Name     `xml:"EnumerationResults"`
	Prefix     string       `xml:"Prefix"`
	Prefixes   []blobPrefix `xml:"Blobs>BlobPrefix"`
	Blobs      []blobEntry  `xml:"Blobs>Blob"`
	NextMarker string       `xml:"NextMarker"`
}

type blobPrefix struct {
	Name string `xml:"Name"`
}

type blobEntry struct {
	Name       string         `xml:"Name"`
	Properties blobProperties `xml:"Properties"`
}

type blobProperties struct {
	ContentLength   int64  `xml:"Content-Length"`
	ContentType     string `xml:"Content-Type"`
	LastModified    string `xml:"Last-Modified"`
	Etag            string `xml:"Etag"`
	AccessTier      string `xml:"AccessTier"`
	CreationTime    string `xml:"Creation-Time"`
	ServerEncrypted bool   `xml:"ServerEncrypted"`
}

type storageError struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}
