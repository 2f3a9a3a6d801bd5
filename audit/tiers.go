package audit

import "strings"

// tierTable maps operation names to audit tiers. The table is static: the
// permission check outcome never changes an operation's tier.
var tierTable = map[string]Tier{
	"auth.login":        TierAdmin,
	"auth.logout":       TierAdmin,
	"auth.whoami":       TierRead,
	"store.get":         TierRead,
	"store.all":         TierRead,
	"store.query":       TierRead,
	"store.subscribe":   TierRead,
	"store.unsubscribe": TierRead,
	"store.insert":      TierWrite,
	"store.update":      TierWrite,
	"store.delete":      TierWrite,
	"rules.list":        TierRead,
	"rules.subscribe":   TierRead,
	"rules.unsubscribe": TierRead,
	"rules.execute":     TierWrite,
}

// TierOf returns the audit tier for an operation. Unknown store and rules
// operations default to write, everything else to admin.
func TierOf(operation string) Tier {
	if t, ok := tierTable[operation]; ok {
		return t
	}
	if strings.HasPrefix(operation, "store.") || strings.HasPrefix(operation, "rules.") {
		return TierWrite
	}
	return TierAdmin
}
