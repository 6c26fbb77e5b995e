package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Record is a verified entitlement for one user of one plugin.
// Immutable once verified.
type Record struct {
	PluginID   string    `json:"pluginId"`
	UserID     string    `json:"userId"`
	FeatureSet []string  `json:"featureSet"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Signature  string    `json:"signature"`
}

// HasFeature reports whether the feature is in the entitlement set.
func (r *Record) HasFeature(feature string) bool {
	for _, f := range r.FeatureSet {
		if f == feature {
			return true
		}
	}
	return false
}

// Expired reports whether the entitlement itself has lapsed.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// canonicalString is the byte sequence the record signature covers. Features
// are sorted so the signature is independent of service-side ordering.
func (r *Record) canonicalString() string {
	features := make([]string, len(r.FeatureSet))
	copy(features, r.FeatureSet)
	sort.Strings(features)

	return strings.Join([]string{
		r.PluginID,
		r.UserID,
		strings.Join(features, ","),
		strconv.FormatInt(r.ExpiresAt.Unix(), 10),
	}, "\n")
}

// Sign computes the HMAC-SHA256 signature for the record with the shared
// secret. Exposed for tests and for service implementations.
func Sign(secret []byte, r *Record) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(r.canonicalString()))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the record's signature against the shared secret in
// constant time.
func VerifySignature(secret []byte, r *Record) error {
	want := Sign(secret, r)
	if !hmac.Equal([]byte(want), []byte(r.Signature)) {
		return ErrBadSignature
	}
	return nil
}
