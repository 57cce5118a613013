package purge

import (
	"strings"

	"github.com/custodian-labs/custodian/pkg/hold"
	"github.com/custodian-labs/custodian/pkg/retention"
	"github.com/custodian-labs/custodian/pkg/store"
)

// payloadProbes lists, per entity, the payload paths checked when the record's
// own identity columns are empty. Order matters: the first non-empty value
// wins. A dot reaches one level into a nested object.
var payloadProbes = map[retention.Entity][]probe{
	retention.EntityOrders: {
		{path: "customerId", field: fieldCustomerID},
		{path: "customer.id", field: fieldCustomerID},
		{path: "customerEmail", field: fieldEmail},
		{path: "email", field: fieldEmail},
		{path: "customer.email", field: fieldEmail},
	},
	retention.EntityLogs: {
		{path: "userId", field: fieldUserID},
		{path: "user.id", field: fieldUserID},
		{path: "email", field: fieldEmail},
	},
	retention.EntityEvents: {
		{path: "userId", field: fieldUserID},
		{path: "user.id", field: fieldUserID},
		{path: "email", field: fieldEmail},
	},
	retention.EntityMarketing: {
		{path: "recipient", field: fieldEmail},
		{path: "email", field: fieldEmail},
		{path: "customerId", field: fieldCustomerID},
	},
}

type identityField int

const (
	fieldCustomerID identityField = iota
	fieldUserID
	fieldEmail
)

type probe struct {
	path  string
	field identityField
}

// subjectOf derives the record's identity for hold matching. Structured
// columns win; payload probes fill in whatever is still missing.
func subjectOf(r store.Record) hold.RecordSubject {
	s := hold.RecordSubject{CustomerID: r.CustomerID, UserID: r.UserID, Email: r.Email}
	for _, p := range payloadProbes[r.Entity] {
		v := lookupPath(r.Payload, p.path)
		if v == "" {
			continue
		}
		switch p.field {
		case fieldCustomerID:
			if s.CustomerID == "" {
				s.CustomerID = v
			}
		case fieldUserID:
			if s.UserID == "" {
				s.UserID = v
			}
		case fieldEmail:
			if s.Email == "" {
				s.Email = v
			}
		}
	}
	return s
}

func lookupPath(payload map[string]any, path string) string {
	if payload == nil {
		return ""
	}
	head, rest, nested := strings.Cut(path, ".")
	v, ok := payload[head]
	if !ok {
		return ""
	}
	if nested {
		inner, ok := v.(map[string]any)
		if !ok {
			return ""
		}
		return lookupPath(inner, rest)
	}
	str, _ := v.(string)
	return str
}
