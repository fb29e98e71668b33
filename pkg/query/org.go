package query

import (
	"context"
	"database/sql"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
)

type Org struct {
	ID            string
	InstanceID    string
	Name          string
	State         domain.OrgState
	PrimaryDomain string
	Sequence      int64
	CreatedAt     time.Time
	ChangedAt     time.Time
}

type OrgDomain struct {
	InstanceID string
	OrgID      string
	Domain     string
	Verified   bool
	IsPrimary  bool
	Sequence   int64
	CreatedAt  time.Time
	ChangedAt  time.Time
}

type OrgSearch struct {
	SearchRequest
	InstanceID   string
	State        domain.OrgState
	NameContains string
}

var orgSortable = map[string]bool{
	"name": true, "state": true, "created_at": true, "changed_at": true, "sequence": true,
}

const orgColumns = `instance_id, id, name, state, primary_domain, sequence, created_at, changed_at`

func scanOrg(row interface{ Scan(...any) error }) (*Org, error) {
	var o Org
	var createdAt, changedAt int64
	err := row.Scan(&o.InstanceID, &o.ID, &o.Name, &o.State, &o.PrimaryDomain,
		&o.Sequence, &createdAt, &changedAt)
	if err != nil {
		return nil, err
	}
	o.CreatedAt = nanosToTime(createdAt)
	o.ChangedAt = nanosToTime(changedAt)
	return &o, nil
}

func (q *Queries) OrgByID(ctx context.Context, instanceID, orgID string) (*Org, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	row := q.db.QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM orgs WHERE instance_id = ? AND id = ?`,
		instanceID, orgID)
	org, err := scanOrg(row)
	if err == sql.ErrNoRows {
		return nil, errs.ThrowNotFound(nil, "QUERY-org", "org %s not found", orgID)
	}
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-org-scan", "failed to read org")
	}
	return org, nil
}

func (q *Queries) SearchOrgs(ctx context.Context, search OrgSearch) ([]Org, int, error) {
	if err := requireInstance(search.InstanceID); err != nil {
		return nil, 0, err
	}
	where := ` WHERE instance_id = ?`
	args := []any{search.InstanceID}
	if search.State != "" {
		where += ` AND state = ?`
		args = append(args, string(search.State))
	}
	if search.NameContains != "" {
		where += ` AND name LIKE ?`
		args = append(args, "%"+search.NameContains+"%")
	}

	total, err := q.count(ctx, `SELECT COUNT(*) FROM orgs`+where, args...)
	if err != nil {
		return nil, 0, err
	}

	order, err := search.orderClause(orgSortable, "created_at")
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.queryRows(ctx, `SELECT `+orgColumns+` FROM orgs`+where+order,
		append(args, search.limit(), search.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orgs []Org
	for rows.Next() {
		org, err := scanOrg(rows)
		if err != nil {
			return nil, 0, errs.ThrowInternal(err, "QUERY-orgs-scan", "failed to read orgs")
		}
		orgs = append(orgs, *org)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errs.ThrowInternal(err, "QUERY-orgs-rows", "failed to read orgs")
	}
	return orgs, total, nil
}

// OrgDomains lists the domains of one org, primary first.
func (q *Queries) OrgDomains(ctx context.Context, instanceID, orgID string) ([]OrgDomain, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	rows, err := q.queryRows(ctx, `
		SELECT instance_id, org_id, domain, verified, is_primary, sequence, created_at, changed_at
		FROM org_domains WHERE instance_id = ? AND org_id = ?
		ORDER BY is_primary DESC, domain ASC`,
		instanceID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var domains []OrgDomain
	for rows.Next() {
		var d OrgDomain
		var createdAt, changedAt int64
		if err := rows.Scan(&d.InstanceID, &d.OrgID, &d.Domain, &d.Verified, &d.IsPrimary,
			&d.Sequence, &createdAt, &changedAt); err != nil {
			return nil, errs.ThrowInternal(err, "QUERY-domains-scan", "failed to read org domains")
		}
		d.CreatedAt = nanosToTime(createdAt)
		d.ChangedAt = nanosToTime(changedAt)
		domains = append(domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-domains-rows", "failed to read org domains")
	}
	return domains, nil
}

// OrgByDomain resolves the org owning a verified domain, the discovery path
// for domain-based login.
func (q *Queries) OrgByDomain(ctx context.Context, instanceID, domainName string) (*Org, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	var orgID string
	err := q.db.QueryRowContext(ctx,
		`SELECT org_id FROM org_domains WHERE instance_id = ? AND domain = ? AND verified = 1`,
		instanceID, domainName).Scan(&orgID)
	if err == sql.ErrNoRows {
		return nil, errs.ThrowNotFound(nil, "QUERY-org-domain", "no org owns domain %s", domainName)
	}
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-org-domain-scan", "failed to resolve domain")
	}
	return q.OrgByID(ctx, instanceID, orgID)
}
