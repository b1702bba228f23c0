// Package vault implements the credential vault: at-rest AES-256-GCM
// encrypted storage of authentication cookie jars, referenced by opaque
// IDs and resolved to short-lived plaintext files during a job.
//
// Encryption follows the same authenticated-cipher idiom
// storj-storj/pkg/encryption uses for its own AES-GCM wrapper: a per-blob
// random nonce, ciphertext, and auth tag, concatenated and hex-encoded on
// disk. No third-party crypto library appears anywhere in the reference
// corpus for this, so crypto/aes + crypto/cipher is the grounded choice,
// not a fallback.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/apierr"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/common"
	"github.com/silvioiatech/railway-yt-dlp-service-sub000/internal/models"
)

const keyFileName = ".encryption_key"

// Vault manages encrypted credential records under Dir, laid out per
// spec.md §6: Dir/.encryption_key, Dir/<id>.enc, Dir/<id>.meta.json.
type Vault struct {
	dir    string
	key    []byte // 32 bytes
	mu     sync.Mutex
	logger arbor.ILogger
}

// Open creates Dir if needed, loads or generates the 256-bit key, and
// returns a ready-to-use Vault. If configuredKey is non-empty it must be 64
// hex characters (32 bytes); otherwise a key is generated on first use and
// persisted with owner-only permissions, matching spec.md §4.B.
func Open(dir string, configuredKey string, logger arbor.ILogger) (*Vault, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "could not create vault directory", err)
	}

	key, err := resolveKey(dir, configuredKey)
	if err != nil {
		return nil, err
	}

	return &Vault{dir: dir, key: key, logger: logger}, nil
}

func resolveKey(dir, configuredKey string) ([]byte, error) {
	if configuredKey != "" {
		key, err := hex.DecodeString(configuredKey)
		if err != nil || len(key) != 32 {
			return nil, apierr.New(apierr.Internal, "COOKIE_ENCRYPTION_KEY must be 64 hex characters (32 bytes)")
		}
		return key, nil
	}

	keyPath := filepath.Join(dir, keyFileName)
	if data, err := os.ReadFile(keyPath); err == nil {
		key, decodeErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decodeErr == nil && len(key) == 32 {
			return key, nil
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "could not generate encryption key", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "could not persist generated encryption key", err)
	}
	return key, nil
}

// Put validates blob as a cookie-jar file, encrypts it, and writes both the
// ciphertext and its metadata sidecar. Returns the new record's ID.
func (v *Vault) Put(blob []byte, displayName, sourceBrowser string) (string, error) {
	if err := validateCookieJar(blob); err != nil {
		return "", err
	}

	ciphertext, err := v.encrypt(blob)
	if err != nil {
		return "", err
	}

	id := common.NewCredentialID()
	meta := models.CredentialMetadata{
		ID:             id,
		DisplayName:    displayName,
		SourceBrowser:  sourceBrowser,
		CoveredDomains: extractDomains(blob),
		CreatedAt:      time.Now().UTC(),
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.WriteFile(v.blobPath(id), []byte(hex.EncodeToString(ciphertext)), 0o600); err != nil {
		return "", apierr.Wrap(apierr.Internal, "could not write credential blob", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", apierr.Wrap(apierr.Internal, "could not marshal credential metadata", err)
	}
	if err := os.WriteFile(v.metaPath(id), metaJSON, 0o600); err != nil {
		_ = os.Remove(v.blobPath(id))
		return "", apierr.Wrap(apierr.Internal, "could not write credential metadata", err)
	}

	return id, nil
}

// Get decrypts the record at id to a temporary owner-only-permissioned
// file and returns its path plus an idempotent cleanup function. The
// caller must invoke cleanup on every exit path.
func (v *Vault) Get(id string) (path string, cleanup func(), err error) {
	plaintext, err := v.decrypt(id)
	if err != nil {
		return "", nil, err
	}

	tmp, err := os.CreateTemp("", "cookies-"+id+"-*.txt")
	if err != nil {
		return "", nil, apierr.Wrap(apierr.Internal, "could not create temporary credential file", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, apierr.Wrap(apierr.Internal, "could not set temporary file permissions", err)
	}
	if _, err := tmp.Write(plaintext); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, apierr.Wrap(apierr.Internal, "could not write temporary credential file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, apierr.Wrap(apierr.Internal, "could not finalize temporary credential file", err)
	}

	var once sync.Once
	name := tmp.Name()
	cleanup = func() {
		once.Do(func() {
			if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
				v.logger.Warn().Str("path", name).Err(err).Msg("failed to remove temporary credential file")
			}
		})
	}
	return name, cleanup, nil
}

// Metadata returns the sidecar for id without ever touching the blob.
func (v *Vault) Metadata(id string) (models.CredentialMetadata, error) {
	data, err := os.ReadFile(v.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return models.CredentialMetadata{}, apierr.New(apierr.NotFound, "credential not found")
		}
		return models.CredentialMetadata{}, apierr.Wrap(apierr.Internal, "could not read credential metadata", err)
	}
	var meta models.CredentialMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return models.CredentialMetadata{}, apierr.Wrap(apierr.Internal, "could not parse credential metadata", err)
	}
	return meta, nil
}

// List returns the metadata for every record in the vault.
func (v *Vault) List() ([]models.CredentialMetadata, error) {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "could not list vault directory", err)
	}

	records := make([]models.CredentialMetadata, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".meta.json") {
			continue
		}
		id := strings.TrimSuffix(name, ".meta.json")
		meta, err := v.Metadata(id)
		if err != nil {
			v.logger.Warn().Str("id", id).Err(err).Msg("skipping unreadable credential metadata")
			continue
		}
		records = append(records, meta)
	}
	return records, nil
}

// Delete removes both files for id. If neither file exists it returns
// NOT_FOUND; if only one exists, removing it is not an error.
func (v *Vault) Delete(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	blobErr := os.Remove(v.blobPath(id))
	metaErr := os.Remove(v.metaPath(id))
	if blobErr != nil && !os.IsNotExist(blobErr) {
		return apierr.Wrap(apierr.Internal, "could not delete credential blob", blobErr)
	}
	if metaErr != nil && !os.IsNotExist(metaErr) {
		return apierr.Wrap(apierr.Internal, "could not delete credential metadata", metaErr)
	}
	if os.IsNotExist(blobErr) && os.IsNotExist(metaErr) {
		return apierr.New(apierr.NotFound, "credential not found")
	}
	return nil
}

func (v *Vault) blobPath(id string) string { return filepath.Join(v.dir, id+".enc") }
func (v *Vault) metaPath(id string) string { return filepath.Join(v.dir, id+".meta.json") }

// encrypt returns nonce||ciphertext||tag as raw bytes; callers hex-encode
// before writing to disk.
func (v *Vault) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "could not initialize cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "could not initialize AEAD", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "could not generate nonce", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (v *Vault) decrypt(id string) ([]byte, error) {
	hexData, err := os.ReadFile(v.blobPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.New(apierr.NotFound, "credential not found")
		}
		return nil, apierr.Wrap(apierr.Internal, "could not read credential blob", err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(hexData)))
	if err != nil {
		return nil, apierr.Wrap(apierr.DecryptFailed, "credential blob is not valid hex", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "could not initialize cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "could not initialize AEAD", err)
	}
	if len(raw) < gcm.NonceSize() {
		return nil, apierr.New(apierr.DecryptFailed, "credential blob is truncated")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.DecryptFailed, "credential integrity check failed", err)
	}
	return plaintext, nil
}

// validateCookieJar rejects empty input and requires the blob look like a
// Netscape cookies.txt: a '#' header line or tab-separated 7-column lines.
func validateCookieJar(blob []byte) error {
	if len(bytes.TrimSpace(blob)) == 0 {
		return apierr.New(apierr.InvalidFormat, "cookie jar is empty")
	}
	lines := bytes.Split(blob, []byte("\n"))
	sawDataLine := false
	sawHeader := false
	for _, line := range lines {
		line = bytes.TrimRight(line, "\r")
		if bytes.HasPrefix(line, []byte("#")) {
			sawHeader = true
			continue
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		cols := bytes.Split(line, []byte("\t"))
		if len(cols) != 7 {
			return apierr.New(apierr.InvalidFormat, "cookie jar line is not tab-separated with 7 columns")
		}
		sawDataLine = true
	}
	if !sawDataLine && !sawHeader {
		return apierr.New(apierr.InvalidFormat, "cookie jar has no header or data lines")
	}
	return nil
}

// extractDomains pulls the distinct domain column (column 0) out of a
// validated cookie jar for CoveredDomains.
func extractDomains(blob []byte) []string {
	seen := map[string]bool{}
	var domains []string
	for _, line := range bytes.Split(blob, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(bytes.TrimSpace(line)) == 0 || bytes.HasPrefix(line, []byte("#")) {
			continue
		}
		cols := bytes.Split(line, []byte("\t"))
		if len(cols) != 7 {
			continue
		}
		domain := string(cols[0])
		if !seen[domain] {
			seen[domain] = true
			domains = append(domains, domain)
		}
	}
	return domains
}
