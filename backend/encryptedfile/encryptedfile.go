// Package encryptedfile implements hive.StorageBackend on top of the local
// filesystem, with every credential record sealed under an authenticated
// symmetric cipher before it touches disk. It keeps one file per record
// with write-then-rename atomicity, sealed with an encryption envelope
// whose key comes from a KeySource.
package encryptedfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/yujiajie1988/hive"
	"github.com/yujiajie1988/hive/crypto"
	"github.com/yujiajie1988/hive/keysource"
)

// New returns a hive.StorageBackend rooted at basePath. If keySource is
// nil, a keysource.NewEnvSource(nil) is used, matching the default
// key-acquisition chain (explicit key / env var / generated-with-warning).
func New(basePath string, keySource hive.KeySource) hive.StorageBackend {
	if keySource == nil {
		keySource = keysource.NewEnvSource(nil)
	}
	return &backend{
		basePath: basePath,
		keys:     keySource,
	}
}

type backend struct {
	basePath string
	keys     hive.KeySource
}

// Writable implements hive.StorageBackend.
func (b *backend) Writable() bool { return true }

func (b *backend) credentialsDir() string { return filepath.Join(b.basePath, "credentials") }
func (b *backend) metadataDir() string    { return filepath.Join(b.basePath, "metadata") }
func (b *backend) credentialPath(id string) string {
	return filepath.Join(b.credentialsDir(), id+".enc")
}
func (b *backend) indexPath() string { return filepath.Join(b.metadataDir(), "index.json") }

// record is the JSON wire format for a credential, sealed by the envelope
// before being written to <id>.enc. Field names are stable on-disk
// identifiers, independent of the in-memory CredentialObject's Go names.
type record struct {
	ID            string            `json:"id"`
	CredentialType hive.CredentialKind `json:"credential_type"`
	Keys          map[string]keyRecord `json:"keys"`
	ProviderID    string            `json:"provider_id"`
	AutoRefresh   bool              `json:"auto_refresh"`
	LastRefreshed time.Time         `json:"last_refreshed"`
	LastUsed      time.Time         `json:"last_used"`
	UseCount      int64             `json:"use_count"`
	Description   string            `json:"description"`
	Tags          []string          `json:"tags,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Metadata      hive.Metadata     `json:"metadata,omitempty"`
	KeyOrder      []string          `json:"key_order"`
}

type keyRecord struct {
	Value      string        `json:"value"`
	Expiration *time.Time    `json:"expires_at,omitempty"`
	Metadata   hive.Metadata `json:"metadata,omitempty"`
}

func toRecord(c *hive.CredentialObject) *record {
	keys := c.Keys()
	r := &record{
		ID:             c.ID,
		CredentialType: c.Kind,
		Keys:           make(map[string]keyRecord, len(keys)),
		KeyOrder:       make([]string, 0, len(keys)),
		ProviderID:     c.ProviderID,
		AutoRefresh:    c.AutoRefresh,
		LastRefreshed:  c.LastRefreshed,
		LastUsed:       c.LastUsed,
		UseCount:       c.UseCount,
		Description:    c.Description,
		Tags:           c.Tags,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		Metadata:       c.Metadata,
	}
	for _, k := range keys {
		r.Keys[k.Name] = keyRecord{
			Value:      k.Value.Reveal(),
			Expiration: k.Expiration,
			Metadata:   k.Metadata,
		}
		r.KeyOrder = append(r.KeyOrder, k.Name)
	}
	return r
}

func fromRecord(r *record) *hive.CredentialObject {
	c := hive.NewCredentialObject(r.ID, r.CredentialType)
	c.ProviderID = r.ProviderID
	c.AutoRefresh = r.AutoRefresh
	c.LastRefreshed = r.LastRefreshed
	c.LastUsed = r.LastUsed
	c.UseCount = r.UseCount
	c.Description = r.Description
	c.Tags = r.Tags
	c.CreatedAt = r.CreatedAt
	c.UpdatedAt = r.UpdatedAt
	if r.Metadata != nil {
		c.Metadata = r.Metadata
	}
	order := r.KeyOrder
	if len(order) == 0 {
		for name := range r.Keys {
			order = append(order, name)
		}
		sort.Strings(order)
	}
	for _, name := range order {
		kr, ok := r.Keys[name]
		if !ok {
			continue
		}
		key := &hive.CredentialKey{
			Name:       name,
			Value:      hive.NewSecretValue(kr.Value),
			Expiration: kr.Expiration,
			Metadata:   kr.Metadata,
		}
		c.SetKey(key)
	}
	return c
}

// Save implements hive.StorageBackend: writes the ciphertext then updates
// the index, using write-then-rename so a concurrent reader never
// observes a truncated file.
func (b *backend) Save(ctx context.Context, c *hive.CredentialObject) error {
	if err := os.MkdirAll(b.credentialsDir(), 0o700); err != nil {
		return fmt.Errorf("encryptedfile: create credentials dir: %w", err)
	}
	if err := os.MkdirAll(b.metadataDir(), 0o700); err != nil {
		return fmt.Errorf("encryptedfile: create metadata dir: %w", err)
	}

	key, err := b.keys.Key(ctx)
	if err != nil {
		return fmt.Errorf("encryptedfile: acquire key: %w", err)
	}
	plaintext, err := json.Marshal(toRecord(c))
	if err != nil {
		return fmt.Errorf("encryptedfile: marshal record: %w", err)
	}
	ciphertext, err := crypto.NewEnvelope(key).Seal(plaintext)
	if err != nil {
		return fmt.Errorf("encryptedfile: seal: %w", err)
	}

	if err := writeFileAtomic(b.credentialPath(c.ID), ciphertext); err != nil {
		return fmt.Errorf("encryptedfile: write ciphertext: %w", err)
	}
	return b.addToIndex(c.ID)
}

// Load implements hive.StorageBackend.
func (b *backend) Load(ctx context.Context, id string) (*hive.CredentialObject, bool, error) {
	data, err := os.ReadFile(b.credentialPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("encryptedfile: read %s: %w", id, err)
	}

	key, err := b.keys.Key(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("encryptedfile: acquire key: %w", err)
	}
	plaintext, err := crypto.NewEnvelope(key).Open(data)
	if err != nil {
		return nil, false, hive.Wrap(hive.CredentialDecryptionError, id, err)
	}

	var r record
	if err := json.Unmarshal(plaintext, &r); err != nil {
		return nil, false, hive.Wrap(hive.CredentialDecryptionError, id, err)
	}
	return fromRecord(&r), true, nil
}

// Delete implements hive.StorageBackend.
func (b *backend) Delete(_ context.Context, id string) (bool, error) {
	err := os.Remove(b.credentialPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("encryptedfile: delete %s: %w", id, err)
	}
	b.removeFromIndex(id)
	return true, nil
}

// Exists implements hive.StorageBackend.
func (b *backend) Exists(_ context.Context, id string) (bool, error) {
	_, err := os.Stat(b.credentialPath(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("encryptedfile: stat %s: %w", id, err)
}

// List implements hive.StorageBackend. The index is advisory; the
// authoritative source is the presence of each per-credential file, so
// List reads the credentials directory and does not consult the index.
func (b *backend) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.credentialsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("encryptedfile: list credentials dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const ext = ".enc"
		if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
			ids = append(ids, name[:len(name)-len(ext)])
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type index struct {
	IDs []string `json:"ids"`
}

func (b *backend) readIndex() *index {
	data, err := os.ReadFile(b.indexPath())
	if err != nil {
		return &index{}
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return &index{}
	}
	return &idx
}

func (b *backend) writeIndex(idx *index) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	return writeFileAtomic(b.indexPath(), data)
}

func (b *backend) addToIndex(id string) error {
	idx := b.readIndex()
	for _, existing := range idx.IDs {
		if existing == id {
			return nil
		}
	}
	idx.IDs = append(idx.IDs, id)
	return b.writeIndex(idx)
}

func (b *backend) removeFromIndex(id string) {
	idx := b.readIndex()
	out := idx.IDs[:0]
	for _, existing := range idx.IDs {
		if existing != id {
			out = append(out, existing)
		}
	}
	idx.IDs = out
	_ = b.writeIndex(idx)
}

// writeFileAtomic writes data to a temp file in the same directory as path
// and renames it into place, so a concurrent reader never sees a
// truncated file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
