// Package credentials implements the credential store: atomic creation,
// rotation, and verification of per-user API keys,
// secrets, and expiring access tokens, keyed by a master HMAC secret,
// persisted to a one-JSON-file-per-user layout under database_path.
package credentials

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/restapi/internal/restapi/apperr"
)

// DefaultAccessTokenTTL is the access-token lifetime used when callers pass
// ttlSecs <= 0 to CreateAccessToken.
const DefaultAccessTokenTTL = 86400

// Store is the per-server credential store. One mutex serializes every
// mutation so readers never observe a torn record; reads always re-load
// the relevant file.
type Store struct {
	databasePath string
	masterKey    []byte
	mu           sync.Mutex
	now          func() time.Time // overridable for tests
}

// Open initializes the on-disk layout under databasePath and
// loads or generates the master key. It is safe to call repeatedly (e.g. on
// every server restart).
func Open(databasePath string) (*Store, error) {
	if databasePath == "" {
		return nil, apperr.New(apperr.KindUndefinedDatabase, "open")
	}

	dirs := []string{
		filepath.Join(databasePath, "logs"),
		filepath.Join(databasePath, "sys", "tls"),
		filepath.Join(databasePath, "sys", "sha"),
		filepath.Join(databasePath, "sys", "users"),
		filepath.Join(databasePath, "users"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, apperr.Wrap(apperr.KindFileCreate, "open", err)
		}
	}

	key, err := loadOrCreateMasterKey(databasePath)
	if err != nil {
		return nil, err
	}

	return &Store{databasePath: databasePath, masterKey: key, now: time.Now}, nil
}

func (s *Store) sysUserPath(username string) string {
	return filepath.Join(s.databasePath, "sys", "users", username)
}

func (s *Store) dataUserPath(username string) string {
	return filepath.Join(s.databasePath, "users", username)
}

func (s *Store) loadRecord(username string) (*UserRecord, error) {
	data, err := os.ReadFile(s.sysUserPath(username))
	if os.IsNotExist(err) {
		return nil, apperr.New(apperr.KindUnknownUsername, "load_record")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFileRead, "load_record", err)
	}
	var rec UserRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, apperr.Wrap(apperr.KindJSONParse, "load_record", err)
	}
	return &rec, nil
}

func (s *Store) saveRecord(rec *UserRecord) error {
	if !rec.invariant() {
		return apperr.New(apperr.KindJSONInvalidType, "save_record")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindJSONParse, "save_record", err)
	}
	return os.WriteFile(s.sysUserPath(rec.Username), data, 0o600)
}

// CreateUser creates the system and data records for a new user. Usernames
// containing '+' are rejected since that character separates a key/token
// from its owning username.
func (s *Store) CreateUser(username, password string, data json.RawMessage) error {
	if strings.Contains(username, "+") {
		return apperr.New(apperr.KindInvalidUsername, "create_user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.sysUserPath(username)); err == nil {
		return apperr.New(apperr.KindDuplicateUsername, "create_user")
	}

	rec := &UserRecord{
		Username:               username,
		Password:               s.hmacHex([]byte(password)),
		APIKeys:                []string{},
		APISecrets:             []string{},
		AccessTokens:           []string{},
		AccessTokensExpiration: []int64{},
	}
	if err := s.saveRecord(rec); err != nil {
		return err
	}

	if data == nil {
		data = json.RawMessage("{}")
	}
	if err := os.WriteFile(s.dataUserPath(username), data, 0o600); err != nil {
		return apperr.Wrap(apperr.KindFileWrite, "create_user", err)
	}
	return nil
}

// DeleteUser removes both the sys and data records for username.
func (s *Store) DeleteUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.sysUserPath(username)); os.IsNotExist(err) {
		return apperr.New(apperr.KindUnknownUsername, "delete_user")
	}
	if err := os.Remove(s.sysUserPath(username)); err != nil {
		return apperr.Wrap(apperr.KindFileRemove, "delete_user", err)
	}
	if err := os.Remove(s.dataUserPath(username)); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.KindFileRemove, "delete_user", err)
	}
	return nil
}

// CreateAPIKey generates and persists a new key/secret pair for username.
func (s *Store) CreateAPIKey(username string) (key, secret string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadRecord(username)
	if err != nil {
		return "", "", err
	}

	rand64, err := randomString(64)
	if err != nil {
		return "", "", apperr.Wrap(apperr.KindCryptoGenerate, "create_api_key", err)
	}
	secretVal, err := randomString(64)
	if err != nil {
		return "", "", apperr.Wrap(apperr.KindCryptoGenerate, "create_api_key", err)
	}
	keyVal := username + "+" + rand64

	rec.APIKeys = append(rec.APIKeys, keyVal)
	rec.APISecrets = append(rec.APISecrets, secretVal)
	if err := s.saveRecord(rec); err != nil {
		return "", "", err
	}
	return keyVal, secretVal, nil
}

// DeleteAPIKey removes key and its paired secret.
func (s *Store) DeleteAPIKey(username, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadRecord(username)
	if err != nil {
		return err
	}

	idx := indexOf(rec.APIKeys, key)
	if idx < 0 {
		return apperr.New(apperr.KindInvalidAPIKey, "delete_api_key")
	}
	rec.APIKeys = removeAt(rec.APIKeys, idx)
	rec.APISecrets = removeAt(rec.APISecrets, idx)
	return s.saveRecord(rec)
}

// CreateAccessToken generates and persists a new access token for username,
// expiring ttlSecs from now (DefaultAccessTokenTTL when ttlSecs <= 0).
func (s *Store) CreateAccessToken(username string, ttlSecs int64) (string, error) {
	if ttlSecs <= 0 {
		ttlSecs = DefaultAccessTokenTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadRecord(username)
	if err != nil {
		return "", err
	}

	rand64, err := randomString(64)
	if err != nil {
		return "", apperr.Wrap(apperr.KindCryptoGenerate, "create_access_token", err)
	}
	token := username + "+" + rand64

	rec.AccessTokens = append(rec.AccessTokens, token)
	rec.AccessTokensExpiration = append(rec.AccessTokensExpiration, s.now().Unix()+ttlSecs)
	if err := s.saveRecord(rec); err != nil {
		return "", err
	}
	return token, nil
}

// DeleteAccessToken removes token and its paired expiration.
func (s *Store) DeleteAccessToken(username, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadRecord(username)
	if err != nil {
		return err
	}

	idx := indexOf(rec.AccessTokens, token)
	if idx < 0 {
		return apperr.New(apperr.KindInvalidAPIKey, "delete_access_token")
	}
	rec.AccessTokens = removeAt(rec.AccessTokens, idx)
	rec.AccessTokensExpiration = removeInt64At(rec.AccessTokensExpiration, idx)
	return s.saveRecord(rec)
}

// VerifyUser reports whether password hashes to the stored password for
// username.
func (s *Store) VerifyUser(username, password string) error {
	rec, err := s.loadRecord(username)
	if err != nil {
		return err
	}
	want := s.hmacHex([]byte(password))
	if subtle.ConstantTimeCompare([]byte(want), []byte(rec.Password)) != 1 {
		return apperr.New(apperr.KindInvalidAuth, "verify_user")
	}
	return nil
}

// VerifyAPIKey reports whether key belongs to username, and (when sig and
// body are both non-nil) whether sig is a valid HMAC-SHA256 of body under
// the secret paired with key.
func (s *Store) VerifyAPIKey(username, key string, sig, body []byte) error {
	rec, err := s.loadRecord(username)
	if err != nil {
		return err
	}
	idx := indexOf(rec.APIKeys, key)
	if idx < 0 {
		return apperr.New(apperr.KindInvalidAPIKey, "verify_api_key")
	}
	if sig == nil {
		return nil
	}
	want := hmacHexWithKey([]byte(rec.APISecrets[idx]), body)
	if subtle.ConstantTimeCompare([]byte(want), sig) != 1 {
		return apperr.New(apperr.KindInvalidSignature, "verify_api_key")
	}
	return nil
}

// VerifyAccessToken reports whether token belongs to username and has not
// expired. It also opportunistically compacts (drops) any expired tokens
// found along the way and rewrites the file when it does so
// — but unlike the documented source bug, a token that is not found (or
// found but expired) is reported as invalid_auth, never success.
func (s *Store) VerifyAccessToken(username, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadRecord(username)
	if err != nil {
		return err
	}

	now := s.now().Unix()
	var keptTokens []string
	var keptExpiry []int64
	found := false
	valid := false
	dropped := false

	for i, t := range rec.AccessTokens {
		exp := rec.AccessTokensExpiration[i]
		if exp <= now {
			dropped = true
			if t == token {
				found = true
			}
			continue
		}
		keptTokens = append(keptTokens, t)
		keptExpiry = append(keptExpiry, exp)
		if t == token {
			found = true
			valid = true
		}
	}

	if dropped {
		rec.AccessTokens = emptyIfNil(keptTokens)
		rec.AccessTokensExpiration = emptyInt64IfNil(keptExpiry)
		if err := s.saveRecord(rec); err != nil {
			return err
		}
	}

	if !found || !valid {
		return apperr.New(apperr.KindInvalidAuth, "verify_access_token")
	}
	return nil
}

// GetUsernameByAPIKey returns the substring of keyOrToken before its first
// '+'. Values without a '+' are malformed.
func (s *Store) GetUsernameByAPIKey(keyOrToken string) (string, error) {
	idx := strings.IndexByte(keyOrToken, '+')
	if idx < 0 {
		return "", apperr.New(apperr.KindInvalidAPIKey, "get_username_by_api_key")
	}
	return keyOrToken[:idx], nil
}

// HMAC returns hex(HMAC-SHA256(master, data)), the general-purpose signing
// primitive exposed to endpoint handlers as hmac().
func (s *Store) HMAC(data []byte) string {
	return s.hmacHex(data)
}

// Sign returns hex(HMAC-SHA256(secret_at_key_index, data)) for username's
// key.
func (s *Store) Sign(username, key string, data []byte) (string, error) {
	rec, err := s.loadRecord(username)
	if err != nil {
		return "", err
	}
	idx := indexOf(rec.APIKeys, key)
	if idx < 0 {
		return "", apperr.New(apperr.KindInvalidAPIKey, "sign")
	}
	return hmacHexWithKey([]byte(rec.APISecrets[idx]), data), nil
}

func (s *Store) hmacHex(data []byte) string {
	return hmacHexWithKey(s.masterKey, data)
}

func hmacHexWithKey(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func indexOf(s []string, v string) int {
	for i, e := range s {
		if e == v {
			return i
		}
	}
	return -1
}

func removeAt(s []string, idx int) []string {
	return emptyIfNil(append(append([]string{}, s[:idx]...), s[idx+1:]...))
}

func removeInt64At(s []int64, idx int) []int64 {
	return emptyInt64IfNil(append(append([]int64{}, s[:idx]...), s[idx+1:]...))
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyInt64IfNil(s []int64) []int64 {
	if s == nil {
		return []int64{}
	}
	return s
}
