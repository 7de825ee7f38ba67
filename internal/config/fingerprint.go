package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// parseDuration is a thin wrapper kept separate so Validate and consumers share
// one parsing path.
func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

// MemberTimeout returns the parsed per-invocation timeout, falling back to 24h.
func (c *Config) MemberTimeout() time.Duration {
	if c.Predict.MemberTimeout == "" {
		return 24 * time.Hour
	}
	d, err := parseDuration(c.Predict.MemberTimeout)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// fingerprintInput is the canonical serialization of the configuration fields
// that govern ensemble generation. Changing any of them invalidates cached
// prediction results on resume; changing anything else does not.
type fingerprintInput struct {
	Backends   []string `json:"backends"`
	NStruct    int      `json:"nstruct"`
	MCDropout  bool     `json:"mc_dropout"`
	NoiseScale float64  `json:"noise_scale"`
	Devices    []string `json:"devices"`
}

// Fingerprint summarizes the stage-governing configuration as a SHA-256 hex
// digest. Backend order is normalized so {a,b} and {b,a} fingerprint equally;
// device order is preserved because it determines seed-to-device assignment.
func Fingerprint(backends []string, nstruct int, mcDropout bool, noiseScale float64, devices []string) string {
	sorted := append([]string(nil), backends...)
	sort.Strings(sorted)

	in := fingerprintInput{
		Backends:   sorted,
		NStruct:    nstruct,
		MCDropout:  mcDropout,
		NoiseScale: noiseScale,
		Devices:    append([]string{}, devices...),
	}
	data, err := json.Marshal(in)
	if err != nil {
		// Marshal of a plain struct cannot fail; keep the signature simple.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
