// ABOUTME: SSH public key authentication for callers
// ABOUTME: Verifies signatures over timestamp|nonce; the account is the key fingerprint

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/ssh"

	"github.com/2389/metasave/internal/record"
)

const (
	// SSHAuthMaxAge is the maximum age of a signature timestamp (5 minutes).
	SSHAuthMaxAge = 5 * time.Minute

	// SSHClockSkew is how far in the future a timestamp may be.
	SSHClockSkew = time.Minute

	// SSHNonceCacheSize is the maximum number of nonces to track.
	SSHNonceCacheSize = 10000

	// SSH auth metadata keys. HTTP uses the same names as headers.
	SSHPubkeyHeader    = "x-ssh-pubkey"
	SSHSignatureHeader = "x-ssh-signature"
	SSHTimestampHeader = "x-ssh-timestamp"
	SSHNonceHeader     = "x-ssh-nonce"
)

// Nonce errors
var (
	ErrNonceReused    = errors.New("nonce already used (possible replay attack)")
	ErrNonceCacheFull = errors.New("nonce cache full")
)

// SSHAuthRequest contains the data sent by a caller for SSH authentication.
type SSHAuthRequest struct {
	Pubkey    string // Full public key (e.g., "ssh-ed25519 AAAA...")
	Signature string // Base64-encoded signature over "timestamp|nonce"
	Timestamp int64  // Unix timestamp
	Nonce     string // Random string to prevent replay
}

// Validate checks that all required SSH fields are present.
func (r *SSHAuthRequest) Validate() error {
	switch {
	case r.Pubkey == "":
		return errors.New("missing SSH public key")
	case r.Signature == "":
		return errors.New("missing SSH signature")
	case r.Timestamp == 0:
		return errors.New("missing SSH timestamp")
	case r.Nonce == "":
		return errors.New("missing SSH nonce")
	}
	return nil
}

// SSHVerifier verifies SSH signatures for caller authentication.
type SSHVerifier struct {
	maxAge  time.Duration
	maxSize int
	nonces  *cache.Cache
	now     func() time.Time
}

// NewSSHVerifier creates a new SSH signature verifier with nonce replay protection.
func NewSSHVerifier() *SSHVerifier {
	return &SSHVerifier{
		maxAge:  SSHAuthMaxAge,
		maxSize: SSHNonceCacheSize,
		nonces:  cache.New(SSHAuthMaxAge+SSHClockSkew, time.Minute),
		now:     time.Now,
	}
}

// Close releases the nonces held by the verifier.
func (v *SSHVerifier) Close() {
	v.nonces.Flush()
}

// Verify checks the SSH signature and returns the caller's account, the
// fingerprint of the key. The signature must be over "timestamp|nonce".
// Nonces are tracked to prevent replay within the timestamp window.
func (v *SSHVerifier) Verify(req *SSHAuthRequest) (record.AccountID, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(req.Pubkey))
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}

	age := v.now().Sub(time.Unix(req.Timestamp, 0))
	if age < -SSHClockSkew {
		return "", errors.New("timestamp is in the future")
	}
	if age > v.maxAge {
		return "", fmt.Errorf("signature expired (age: %v, max: %v)", age, v.maxAge)
	}

	sigBytes, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return "", fmt.Errorf("invalid signature encoding: %w", err)
	}

	sig := new(ssh.Signature)
	if err := ssh.Unmarshal(sigBytes, sig); err != nil {
		return "", fmt.Errorf("invalid signature format: %w", err)
	}

	message := fmt.Sprintf("%d|%s", req.Timestamp, req.Nonce)
	if err := pubkey.Verify([]byte(message), sig); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	// The nonce key includes the fingerprint so one key's nonce cannot
	// block another's. Add fails atomically if the key is already present.
	fp := ComputeFingerprint(pubkey)
	if v.nonces.ItemCount() >= v.maxSize {
		v.nonces.DeleteExpired()
		if v.nonces.ItemCount() >= v.maxSize {
			return "", ErrNonceCacheFull
		}
	}
	nonceKey := fmt.Sprintf("%s:%d:%s", fp, req.Timestamp, req.Nonce)
	if err := v.nonces.Add(nonceKey, struct{}{}, cache.DefaultExpiration); err != nil {
		return "", ErrNonceReused
	}

	return record.AccountID(fp), nil
}

// ComputeFingerprint computes the SHA256 fingerprint of a public key.
// Returns lowercase hex encoding without colons.
func ComputeFingerprint(pubkey ssh.PublicKey) string {
	hash := sha256.Sum256(pubkey.Marshal())
	return hex.EncodeToString(hash[:])
}

// ParseFingerprintFromKey parses a public key string and returns its fingerprint.
// Operators use it to learn the account id of an SSH key before granting it.
func ParseFingerprintFromKey(pubkeyStr string) (string, error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubkeyStr))
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}
	return ComputeFingerprint(pubkey), nil
}

// SignRequest builds an SSHAuthRequest signed by signer for the given time and nonce.
func SignRequest(signer ssh.Signer, at time.Time, nonce string) (*SSHAuthRequest, error) {
	ts := at.Unix()
	sig, err := signer.Sign(rand.Reader, []byte(fmt.Sprintf("%d|%s", ts, nonce)))
	if err != nil {
		return nil, fmt.Errorf("signing auth message: %w", err)
	}
	return &SSHAuthRequest{
		Pubkey:    strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))),
		Signature: base64.StdEncoding.EncodeToString(ssh.Marshal(sig)),
		Timestamp: ts,
		Nonce:     nonce,
	}, nil
}

// Headers returns the request as metadata key/value pairs.
func (r *SSHAuthRequest) Headers() map[string]string {
	return map[string]string{
		SSHPubkeyHeader:    r.Pubkey,
		SSHSignatureHeader: r.Signature,
		SSHTimestampHeader: strconv.FormatInt(r.Timestamp, 10),
		SSHNonceHeader:     r.Nonce,
	}
}

// ExtractSSHAuth extracts SSH auth fields using get to read each header.
// Returns nil if no SSH auth headers are present.
func ExtractSSHAuth(get func(key string) string) *SSHAuthRequest {
	pubkey := get(SSHPubkeyHeader)
	signature := get(SSHSignatureHeader)
	timestampStr := get(SSHTimestampHeader)
	nonce := get(SSHNonceHeader)

	// If any SSH header is present, treat it as SSH auth attempt
	if pubkey == "" && signature == "" && timestampStr == "" && nonce == "" {
		return nil
	}

	timestamp, _ := strconv.ParseInt(strings.TrimSpace(timestampStr), 10, 64)

	return &SSHAuthRequest{
		Pubkey:    strings.TrimSpace(pubkey),
		Signature: strings.TrimSpace(signature),
		Timestamp: timestamp,
		Nonce:     strings.TrimSpace(nonce),
	}
}

// ExtractSSHAuthFromMetadata extracts SSH auth fields from gRPC metadata.
func ExtractSSHAuthFromMetadata(md map[string][]string) *SSHAuthRequest {
	return ExtractSSHAuth(func(key string) string {
		if vals, ok := md[key]; ok && len(vals) > 0 {
			return vals[0]
		}
		return ""
	})
}
