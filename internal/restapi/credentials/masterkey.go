package credentials

import (
	"os"
	"path/filepath"

	"github.com/bdobrica/restapi/internal/restapi/apperr"
)

// masterKeySize is the length in bytes of the per-database master secret
//.
const masterKeySize = 32

// loadOrCreateMasterKey reads <database_path>/sys/sha/master, generating and
// persisting a fresh random key on first run and reusing it thereafter.
func loadOrCreateMasterKey(databasePath string) ([]byte, error) {
	path := filepath.Join(databasePath, "sys", "sha", "master")

	if data, err := os.ReadFile(path); err == nil {
		if len(data) != masterKeySize {
			return nil, apperr.New(apperr.KindCryptoKey, "load_master_key")
		}
		return data, nil
	} else if !os.IsNotExist(err) {
		return nil, apperr.Wrap(apperr.KindFileRead, "load_master_key", err)
	}

	key, err := randomBytes(masterKeySize)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCryptoGenerate, "load_master_key", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, apperr.Wrap(apperr.KindFileCreate, "load_master_key", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, apperr.Wrap(apperr.KindFileWrite, "load_master_key", err)
	}
	return key, nil
}
