package retrieval

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"searchchat-backend/internal/crypto"
	"searchchat-backend/internal/models"
)

const keyPrefix = "v1:"

// Keyer computes and checks context validity keys. A key is a MAC over the
// index version, the origin query and every passage field, so a context that
// was edited by the caller or retrieved from an older index no longer matches.
type Keyer struct {
	mac     *crypto.MAC
	version string
}

func NewKeyer(key []byte, indexVersion string) (*Keyer, error) {
	mac, err := crypto.NewMAC(key)
	if err != nil {
		return nil, err
	}
	return &Keyer{mac: mac, version: indexVersion}, nil
}

// Key returns the validity key for the given retrieval result.
func (k *Keyer) Key(query string, passages []models.Passage) string {
	parts := make([][]byte, 0, 3+len(passages)*4)
	parts = append(parts, []byte("searchchat/context"), []byte(k.version), []byte(query))
	for _, p := range passages {
		parts = append(parts,
			[]byte(p.ID),
			crypto.Digest([]byte(p.Text)),
			[]byte(strconv.FormatFloat(p.Score, 'g', -1, 64)),
			metadataDigest(p.Metadata),
		)
	}
	return keyPrefix + hex.EncodeToString(k.mac.Sum(parts...))
}

// Valid reports whether c carries the key this server would compute for it.
func (k *Keyer) Valid(c *models.Context) bool {
	if c == nil || !strings.HasPrefix(c.ValidityKey, keyPrefix) {
		return false
	}
	expected := k.Key(c.Query, c.Passages)
	return crypto.Equal([]byte(expected), []byte(c.ValidityKey))
}

func metadataDigest(m map[string]string) []byte {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		b.WriteString(strconv.Quote(key))
		b.WriteByte('=')
		b.WriteString(strconv.Quote(m[key]))
		b.WriteByte(';')
	}
	return crypto.Digest([]byte(b.String()))
}
