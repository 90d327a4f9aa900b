package referral

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/roach88/refledger/internal/model"
	"github.com/roach88/refledger/internal/registry"
)

// idPrefix marks deep-link parameters that carry a raw user id.
const idPrefix = "ref_"

// Ref identifies a candidate referrer as received from a deep link.
// Code is tried first; ID is the fallback when the code matches nobody.
type Ref struct {
	Code string
	ID   model.UserID
}

// ParseRef interprets an inbound start parameter:
//
//	"ABC12345"  -> code lookup
//	"ref_1234"  -> user id 1234
//	"12345678"  -> code lookup, then user id 12345678
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("parse referrer: empty")
	}

	if rest, ok := strings.CutPrefix(strings.ToLower(s), idPrefix); ok {
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || id <= 0 {
			return Ref{}, fmt.Errorf("parse referrer %q: invalid user id", s)
		}
		return Ref{ID: model.UserID(id)}, nil
	}

	ref := Ref{Code: registry.NormalizeCode(s)}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil && id > 0 {
		ref.ID = model.UserID(id)
	}
	return ref, nil
}

// String renders the ref for logs.
func (r Ref) String() string {
	switch {
	case r.Code != "" && r.ID != 0:
		return fmt.Sprintf("%s|%d", r.Code, r.ID)
	case r.Code != "":
		return r.Code
	default:
		return fmt.Sprintf("%s%d", idPrefix, r.ID)
	}
}

// BuildReferralLink returns the deep link a user shares to invite others:
// https://t.me/<botHandle>?start=<referralCode>. A leading "@" on the
// handle is dropped.
func BuildReferralLink(botHandle, referralCode string) string {
	handle := strings.TrimPrefix(strings.TrimSpace(botHandle), "@")
	return "https://t.me/" + url.PathEscape(handle) + "?start=" + url.QueryEscape(referralCode)
}
