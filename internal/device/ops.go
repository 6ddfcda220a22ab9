package device

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Well-known menu paths.
const (
	PathIPBinding   = "/ip/hotspot/ip-binding"
	PathSimpleQueue = "/queue/simple"
	PathHotspotHost = "/ip/hotspot/active"
	PathARP         = "/ip/arp"
	PathDHCPLease   = "/ip/dhcp-server/lease"
	PathIdentity    = "/system/identity"
	PathResource    = "/system/resource"
)

func Print(ctx context.Context, conn Conn, menu string, query map[string]string) ([]Record, error) {
	return conn.Run(ctx, Command{Path: menu + "/print", Query: query})
}

// Add creates an object and returns its id when the router reports one.
func Add(ctx context.Context, conn Conn, menu string, args map[string]string) (string, error) {
	recs, err := conn.Run(ctx, Command{Path: menu + "/add", Args: args})
	if err != nil {
		return "", err
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if id := recs[i]["ret"]; id != "" {
			return id, nil
		}
		if id := recs[i].ID(); id != "" {
			return id, nil
		}
	}
	return "", nil
}

func Remove(ctx context.Context, conn Conn, menu, id string) error {
	_, err := conn.Run(ctx, Command{Path: menu + "/remove", Args: map[string]string{".id": id}})
	return err
}

// RemoveWhere removes every object under menu matching query and returns how
// many were removed. Objects that vanish between print and remove are not
// errors. Removal continues past individual failures.
func RemoveWhere(ctx context.Context, conn Conn, menu string, query map[string]string) (int, error) {
	return RemoveMatching(ctx, conn, menu, query, nil)
}

// RemoveMatching is RemoveWhere with an extra filter applied to the printed
// records. A nil keep removes everything query matches.
func RemoveMatching(ctx context.Context, conn Conn, menu string, query map[string]string, keep func(Record) bool) (int, error) {
	recs, err := Print(ctx, conn, menu, query)
	if err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("list %s: %w", menu, err)
	}

	var (
		removed int
		result  *multierror.Error
	)
	for _, rec := range recs {
		id := rec.ID()
		if id == "" || (keep != nil && !keep(rec)) {
			continue
		}
		if err := Remove(ctx, conn, menu, id); err != nil {
			if IsNotFound(err) {
				continue
			}
			result = multierror.Append(result, fmt.Errorf("remove %s %s: %w", menu, id, err))
			continue
		}
		removed++
	}
	return removed, result.ErrorOrNil()
}
