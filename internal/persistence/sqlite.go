// Package persistence implements the neighbour-set durability contract
// from spec section 6: the store SHOULD survive a graceful restart, and
// corrupt or missing state MUST be treated as an empty neighbour set, not
// a fatal startup error. It is grounded on keysaver-server/storage.go's
// modernc.org/sqlite-backed, AEAD-at-rest pattern, adapted from per-file
// key records to a single sealed blob holding the whole neighbour set.
package persistence

import (
	"database/sql"
	"encoding/json"
	"net"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/frebib/kipa/internal/kerr"
	"github.com/frebib/kipa/internal/model"
	"github.com/frebib/kipa/internal/neighbours"
)

// Sealer is the subset of cryptoprovider.Provider persistence needs to
// encrypt neighbour state at rest under a key only the local identity can
// derive. It is satisfied by *cryptoprovider's identity directly.
type Sealer interface {
	PublicKey() model.Key
	SharedSecret(peer model.Key) ([]byte, error)
	Expand(secret, salt []byte, info string, length int) ([]byte, error)
	Seal(key, plaintext, additionalData []byte) ([]byte, error)
	Open(key, ciphertext, additionalData []byte) ([]byte, error)
}

const (
	restAtKeyInfo = "kipa/persistence/neighbours/v1"
	restAtKeyLen  = 32
)

// Store persists a neighbours.Store's contents to a single-row sqlite
// table, sealed with a key derived from the local identity's own
// key-agreement material (a self Diffie-Hellman, expanded via HKDF) so the
// state is only legible to the node that wrote it.
type Store struct {
	db     *sql.DB
	sealer Sealer
	log    *zap.Logger
}

// Open opens (creating if necessary) the sqlite database at path and
// prepares its schema.
func Open(path string, sealer Sealer, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, kerr.Internal(err, "open neighbour persistence database")
	}
	s := &Store{db: db, sealer: sealer, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, kerr.Internal(err, "init neighbour persistence schema")
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS neighbour_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		updated_at INTEGER NOT NULL,
		payload BLOB NOT NULL
	)`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// persistedEntry is the on-disk (pre-encryption) shape of one
// neighbours.Entry; model.Key and model.Node keep their fields
// unexported, so persistence round-trips them through this instead of
// (de)serializing them directly.
type persistedEntry struct {
	KeyRaw      []byte `json:"key_raw"`
	Fingerprint string `json:"fingerprint"`
	IP          string `json:"ip"`
	Port        uint16 `json:"port"`
	Verified    bool   `json:"verified"`
}

func (s *Store) restKey() ([]byte, error) {
	shared, err := s.sealer.SharedSecret(s.sealer.PublicKey())
	if err != nil {
		return nil, kerr.Internal(err, "derive persistence key material")
	}
	return s.sealer.Expand(shared, nil, restAtKeyInfo, restAtKeyLen)
}

// Save seals and writes the full contents of store, overwriting whatever
// was previously persisted (spec section 6: "written at graceful
// shutdown").
func (s *Store) Save(store *neighbours.Store) error {
	entries := store.Entries()
	persisted := make([]persistedEntry, len(entries))
	for i, e := range entries {
		persisted[i] = persistedEntry{
			KeyRaw:      e.Node.Key.Bytes(),
			Fingerprint: e.Node.Key.Fingerprint(),
			IP:          e.Node.Address.IP.String(),
			Port:        e.Node.Address.Port,
			Verified:    e.Verified,
		}
	}

	plaintext, err := json.Marshal(persisted)
	if err != nil {
		return kerr.Internal(err, "marshal neighbour state")
	}

	key, err := s.restKey()
	if err != nil {
		return err
	}
	sealed, err := s.sealer.Seal(key, plaintext, nil)
	if err != nil {
		return kerr.Internal(err, "seal neighbour state")
	}

	_, err = s.db.Exec(`
	INSERT INTO neighbour_state (id, updated_at, payload) VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at, payload = excluded.payload
	`, time.Now().Unix(), sealed)
	if err != nil {
		return kerr.Internal(err, "write neighbour state")
	}
	return nil
}

// Load reads and unseals the persisted neighbour set, returning it as
// restorable entries. Any failure — no row yet, a corrupt blob, a seal
// that no longer opens (e.g. the identity changed) — is logged and
// reported as an empty, non-error result: spec section 6 requires
// treating unreadable state as "start empty", never a fatal error.
func (s *Store) Load() []neighbours.Entry {
	var sealed []byte
	err := s.db.QueryRow(`SELECT payload FROM neighbour_state WHERE id = 1`).Scan(&sealed)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		s.log.Warn("read persisted neighbour state, starting empty", zap.Error(err))
		return nil
	}

	key, err := s.restKey()
	if err != nil {
		s.log.Warn("derive persistence key, starting empty", zap.Error(err))
		return nil
	}
	plaintext, err := s.sealer.Open(key, sealed, nil)
	if err != nil {
		s.log.Warn("unseal persisted neighbour state, starting empty", zap.Error(err))
		return nil
	}

	var persisted []persistedEntry
	if err := json.Unmarshal(plaintext, &persisted); err != nil {
		s.log.Warn("decode persisted neighbour state, starting empty", zap.Error(err))
		return nil
	}

	out := make([]neighbours.Entry, 0, len(persisted))
	for _, p := range persisted {
		ip := net.ParseIP(p.IP)
		if ip == nil {
			s.log.Warn("drop persisted neighbour with unparsable address", zap.String("ip", p.IP))
			continue
		}
		out = append(out, neighbours.Entry{
			Node: model.Node{
				Key:     model.NewKey(p.KeyRaw, p.Fingerprint),
				Address: model.Address{IP: ip, Port: p.Port},
			},
			Verified: p.Verified,
		})
	}
	return out
}
