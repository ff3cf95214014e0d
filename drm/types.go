package drm

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Well known protection system identifiers.
var (
	WidevineSystemID  = SystemID("edef8ba9-79d6-4ace-a3c8-27dcd51d21ed")
	PlayReadySystemID = SystemID("9a04f079-9840-4286-ab92-e65be0885f95")
	ClearKeySystemID  = SystemID("1077efec-c0b2-4d02-ace3-3c1e52e2fb4b")
)

// SystemID names a content protection system by its canonical, lower-case
// UUID string.
type SystemID string

// ParseSystemID accepts any UUID spelling (braced, upper case, urn:uuid:)
// and returns its canonical form.
func ParseSystemID(s string) (SystemID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("parse system id %q: %w", s, err)
	}
	return SystemID(id.String()), nil
}

func (s SystemID) String() string { return string(s) }

// MediaType is the kind of track a session decrypts.
type MediaType int

const (
	MediaTypeVideo MediaType = iota
	MediaTypeAudio
	MediaTypeSubtitle
)

func (m MediaType) String() string {
	switch m {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	case MediaTypeSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// MediaFormat is the packaging of the stream that carried the init data.
type MediaFormat string

const (
	MediaFormatDASH        MediaFormat = "dash"
	MediaFormatHLS         MediaFormat = "hls"
	MediaFormatHLSMP4      MediaFormat = "hls_mp4"
	MediaFormatProgressive MediaFormat = "progressive"
)

// KeyID is an opaque key identifier extracted from init data.
type KeyID []byte

func (k KeyID) String() string { return hex.EncodeToString(k) }

// Equal reports whether both ids hold the same bytes.
func (k KeyID) Equal(o KeyID) bool { return bytes.Equal(k, o) }

// KeyIDsIntersect reports whether a and b share at least one key id.
func KeyIDsIntersect(a, b []KeyID) bool {
	for _, x := range a {
		for _, y := range b {
			if x.Equal(y) {
				return true
			}
		}
	}
	return false
}

// CloneKeyIDs returns a deep copy of ids.
func CloneKeyIDs(ids []KeyID) []KeyID {
	if ids == nil {
		return nil
	}
	out := make([]KeyID, len(ids))
	for i, k := range ids {
		out[i] = append(KeyID(nil), k...)
	}
	return out
}

// FormatKeyIDs renders ids as a comma separated list of hex strings.
func FormatKeyIDs(ids []KeyID) string {
	parts := make([]string, len(ids))
	for i, k := range ids {
		parts[i] = k.String()
	}
	return strings.Join(parts, ",")
}
