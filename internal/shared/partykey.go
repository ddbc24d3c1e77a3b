package shared

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var partyLower = cases.Lower(language.Und)

// NormalizeParty canonicalises a free-text name or phone for identity
// grouping: NFKC fold, lower case, collapsed whitespace.
func NormalizeParty(s string) string {
	s = norm.NFKC.String(s)
	s = partyLower.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// PartyKey derives the stable identity key for a counterparty from its
// normalized name and phone. Historical lines keep grouping correctly after
// a rename because the key is recomputed and rewritten alongside the name.
func PartyKey(name, phone string) string {
	h, _ := blake2b.New(20, nil)
	_, _ = h.Write([]byte(NormalizeParty(name)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(NormalizeParty(phone)))
	return hex.EncodeToString(h.Sum(nil))
}
