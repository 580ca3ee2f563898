package model

import (
	"encoding/json"
	"fmt"
)

// Well-known data address property keys.
const (
	KeyType             = "type"
	KeyBaseURL          = "baseUrl"
	KeyPath             = "path"
	KeyFilename         = "filename"
	KeyKeyName          = "keyName"
	KeyEndpoint         = "endpoint"
	KeyAuthorization    = "authorization"
	KeyAuthType         = "authType"
	KeyAuthKey          = "authKey"
	KeyAuthCode         = "authCode"
	KeySourceFolder     = "sourceFolder"
	KeyBucketName       = "bucketName"
	KeyRegion           = "region"
	KeyObjectName       = "objectName"
	KeyEndpointOverride = "endpointOverride"
	KeyProxyPath        = "proxyPath"
	KeyProxyQuery       = "proxyQueryParams"
	KeyProxyMethod      = "proxyMethod"
	KeyProxyBody        = "proxyBody"
	KeyMethod           = "method"
	KeyContentType      = "contentType"
	KeyTopic            = "topic"
)

// Data address types handled by the bundled sources and sinks.
const (
	TypeHTTPData      = "HttpData"
	TypeHTTPStreaming = "HttpStreaming"
	TypeFile          = "File"
	TypeAmazonS3      = "AmazonS3"
	TypeKafka         = "Kafka"
	TypeEDR           = "https://w3id.org/idsa/v4.1/HTTP"
)

// DataAddress is an open property bag describing where data lives or should
// be delivered. Only "type" is mandatory.
type DataAddress map[string]any

// NewDataAddress creates an address of the given type.
func NewDataAddress(typ string) DataAddress {
	return DataAddress{KeyType: typ}
}

// Type returns the address type.
func (d DataAddress) Type() string {
	return d.GetString(KeyType)
}

// Get returns a raw property.
func (d DataAddress) Get(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d[key]
	return v, ok
}

// GetString returns a property rendered as a string, or "" when absent.
func (d DataAddress) GetString(key string) string {
	v, ok := d.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// GetBool interprets "true" strings and booleans.
func (d DataAddress) GetBool(key string) bool {
	v, ok := d.Get(key)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true"
	}
	return false
}

// Set stores a property.
func (d DataAddress) Set(key string, value any) DataAddress {
	d[key] = value
	return d
}

// KeyName returns the vault key referenced by the address, if any.
func (d DataAddress) KeyName() string {
	return d.GetString(KeyKeyName)
}

// Clone returns a shallow copy.
func (d DataAddress) Clone() DataAddress {
	if d == nil {
		return nil
	}
	out := make(DataAddress, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// UnmarshalJSON accepts "@type":"DataAddress" envelopes and the legacy
// "edc:type" spelling alongside plain "type".
func (d *DataAddress) UnmarshalJSON(b []byte) error {
	raw := map[string]any{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(DataAddress, len(raw))
	for k, v := range raw {
		if k == "@type" {
			continue
		}
		out[StripNamespace(k)] = v
	}
	*d = out
	return nil
}

// Validate checks the address has a type.
func (d DataAddress) Validate() error {
	if d.Type() == "" {
		return fmt.Errorf("data address type is required")
	}
	return nil
}
