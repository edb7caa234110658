package proxy

import (
	"fmt"
	"strings"

	"kptv-timeshift/work/logger"
	"kptv-timeshift/work/types"

	"github.com/puzpuzpuz/xsync/v3"
)

// DialectCache remembers, per provider account, which catch-up URL dialect the
// provider accepted. It lives for the process lifetime. Concurrent writers race
// and the last one wins; a stale read only costs one extra fallback.
type DialectCache struct {
	dialects *xsync.MapOf[int64, types.Dialect]
}

// NewDialectCache creates an empty cache. Absent accounts try DialectA first.
func NewDialectCache() *DialectCache {
	return &DialectCache{
		dialects: xsync.NewMapOf[int64, types.Dialect](),
	}
}

// Get returns the remembered dialect for accountID.
func (dc *DialectCache) Get(accountID int64) (types.Dialect, bool) {
	return dc.dialects.Load(accountID)
}

// Remember records the dialect the provider accepted.
func (dc *DialectCache) Remember(accountID int64, dialect types.Dialect) {
	dc.dialects.Store(accountID, dialect)
	logger.Debug("{proxy/dialect - Remember} Account %d now uses dialect %s", accountID, dialect)
}

// Forget drops the preference for one account.
func (dc *DialectCache) Forget(accountID int64) bool {
	_, existed := dc.dialects.LoadAndDelete(accountID)
	return existed
}

// Reset drops every preference.
func (dc *DialectCache) Reset() {
	dc.dialects.Clear()
}

// Snapshot copies the current preferences.
func (dc *DialectCache) Snapshot() map[int64]types.Dialect {
	out := make(map[int64]types.Dialect, dc.dialects.Size())
	dc.dialects.Range(func(accountID int64, dialect types.Dialect) bool {
		out[accountID] = dialect
		return true
	})
	return out
}

// BuildDialectA renders the query-string form. Values are inserted verbatim.
func BuildDialectA(account *types.ProviderAccount, streamID, ts string, duration int) string {
	return fmt.Sprintf("%s/streaming/timeshift.php?username=%s&password=%s&stream=%s&start=%s&duration=%d",
		strings.TrimRight(account.ServerURL, "/"), account.Username, account.Password, streamID, ts, duration)
}

// BuildDialectB renders the path form.
func BuildDialectB(account *types.ProviderAccount, streamID, ts string, duration int) string {
	return fmt.Sprintf("%s/timeshift/%s/%s/%d/%s/%s.ts",
		strings.TrimRight(account.ServerURL, "/"), account.Username, account.Password, duration, ts, streamID)
}

// Negotiator picks the URL dialect for an account. Providers differ in which
// catch-up URL form they accept, and the only way to find out is to ask: the
// query form is tried first and the path form is kept as the fallback until
// the relay reports that an account needs it.
type Negotiator struct {
	cache *DialectCache
}

// NewNegotiator creates a Negotiator backed by cache.
func NewNegotiator(cache *DialectCache) *Negotiator {
	return &Negotiator{cache: cache}
}

// Build returns the primary URL and an optional fallback. Accounts known to
// need DialectB get it alone; everyone else tries DialectA then DialectB.
func (n *Negotiator) Build(account *types.ProviderAccount, streamID, ts string, duration int) (primary, fallback string) {
	if dialect, ok := n.cache.Get(account.ID); ok && dialect == types.DialectB {
		return BuildDialectB(account, streamID, ts, duration), ""
	}
	return BuildDialectA(account, streamID, ts, duration), BuildDialectB(account, streamID, ts, duration)
}
