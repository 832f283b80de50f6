package cache

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// KeyPrefix namespaces every key Engage writes to Redis.
	KeyPrefix = "engage"

	// UpdatesChannel carries manifest invalidations from writers to data
	// plane replicas.
	UpdatesChannel = KeyPrefix + ":manifests:updates"

	// maxVersionPrefix is the longest "<int64>|" prefix a stored value can
	// carry: a sign, 19 digits and the separator.
	maxVersionPrefix = 21
)

// ManifestKey is where the L2 copy of an app's manifest lives.
func ManifestKey(appKey string) string {
	return KeyPrefix + ":manifest:" + appKey
}

// SessionKey is where a session snapshot lives.
func SessionKey(appKey, sessionID string) string {
	return KeyPrefix + ":session:" + appKey + ":" + sessionID
}

// encodeManifest prefixes the document with its version: "<version>|<json>".
func encodeManifest(body []byte, version int64) string {
	var b strings.Builder
	b.Grow(len(body) + maxVersionPrefix)
	b.WriteString(strconv.FormatInt(version, 10))
	b.WriteByte('|')
	b.Write(body)
	return b.String()
}

// decodeManifest splits a stored value into version and document. Values
// without a valid prefix are returned whole with ok false.
func decodeManifest(encoded string) (version int64, body string, ok bool) {
	window := encoded
	if len(window) > maxVersionPrefix {
		window = window[:maxVersionPrefix]
	}
	sep := strings.IndexByte(window, '|')
	if sep < 0 {
		return 0, encoded, false
	}
	version, err := strconv.ParseInt(encoded[:sep], 10, 64)
	if err != nil {
		return 0, encoded, false
	}
	return version, encoded[sep+1:], true
}

// Invalidation announces that an app's manifest changed. Version 0 means the
// manifest was deleted.
type Invalidation struct {
	AppKey  string
	Version int64
}

// String renders the wire form "<app>:<version>".
func (i Invalidation) String() string {
	return EncodeInvalidation(i.AppKey, i.Version)
}

// EncodeInvalidation renders a Pub/Sub message.
func EncodeInvalidation(appKey string, version int64) string {
	return fmt.Sprintf("%s:%d", appKey, version)
}

// DecodeInvalidation parses a Pub/Sub message. A message without a numeric
// suffix is taken whole as the app key with version 0.
func DecodeInvalidation(msg string) Invalidation {
	sep := strings.LastIndexByte(msg, ':')
	if sep < 0 {
		return Invalidation{AppKey: msg}
	}
	version, err := strconv.ParseInt(msg[sep+1:], 10, 64)
	if err != nil {
		return Invalidation{AppKey: msg}
	}
	return Invalidation{AppKey: msg[:sep], Version: version}
}
