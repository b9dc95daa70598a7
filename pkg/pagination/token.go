package pagination

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"

	"github.com/uniauth/identity-core/pkg/identity"
)

// tokenVersion tags the binary layout so future filter additions can change
// the encoding without silently corrupting old tokens
const tokenVersion byte = 1

const (
	directionAsc  byte = 0
	directionDesc byte = 1
)

// Token is the decoded form of an opaque pagination cursor. It round-trips
// exactly the watermark of the last row a previous page returned, plus the
// direction it was issued for.
type Token struct {
	Watermark identity.Watermark
	Ascending bool
}

// Encode serializes the token to its opaque wire form: a version byte, the
// direction, the big-endian timeJoined, and the watermark user id, all
// base64url encoded.
func (t Token) Encode() string {
	var buf bytes.Buffer
	buf.WriteByte(tokenVersion)
	if t.Ascending {
		buf.WriteByte(directionAsc)
	} else {
		buf.WriteByte(directionDesc)
	}
	var joined [8]byte
	binary.BigEndian.PutUint64(joined[:], uint64(t.Watermark.TimeJoined))
	buf.Write(joined[:])
	buf.WriteString(t.Watermark.RecipeUserID)
	return base64.RawURLEncoding.EncodeToString(buf.Bytes())
}

// DecodeToken parses an opaque cursor. Unknown versions and malformed input
// are rejected as ErrInvalidPaginationToken; no best-effort decode is
// attempted.
func DecodeToken(s string) (Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, ErrInvalidPaginationToken
	}
	if len(raw) < 10 {
		return Token{}, ErrInvalidPaginationToken
	}
	if raw[0] != tokenVersion {
		return Token{}, ErrInvalidPaginationToken
	}
	if raw[1] != directionAsc && raw[1] != directionDesc {
		return Token{}, ErrInvalidPaginationToken
	}
	return Token{
		Ascending: raw[1] == directionAsc,
		Watermark: identity.Watermark{
			TimeJoined:   int64(binary.BigEndian.Uint64(raw[2:10])),
			RecipeUserID: string(raw[10:]),
		},
	}, nil
}
