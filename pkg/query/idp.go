package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
)

// IDP is a configured identity provider without secret material.
type IDP struct {
	ID            string
	InstanceID    string
	ResourceOwner string
	Type          domain.IDPType
	Name          string
	ClientID      string
	Issuer        string
	AuthURL       string
	TokenURL      string
	UserURL       string
	Scopes        []string
	MetadataURL   string
	Sequence      int64
	CreatedAt     time.Time
	ChangedAt     time.Time
}

// Intent is one federated login flow.
type Intent struct {
	ID            string
	InstanceID    string
	ResourceOwner string
	IDPID         string
	IDPType       domain.IDPType
	State         domain.IntentState
	StateToken    string
	UserID        string
	FailureReason string
	ExpiresAt     time.Time
	Sequence      int64
	CreatedAt     time.Time
	ChangedAt     time.Time
}

const idpColumns = `instance_id, id, resource_owner, type, name, client_id, issuer,
	auth_url, token_url, user_url, scopes, metadata_url, sequence, created_at, changed_at`

func scanIDP(row interface{ Scan(...any) error }) (*IDP, error) {
	var p IDP
	var scopes string
	var createdAt, changedAt int64
	err := row.Scan(&p.InstanceID, &p.ID, &p.ResourceOwner, &p.Type, &p.Name, &p.ClientID, &p.Issuer,
		&p.AuthURL, &p.TokenURL, &p.UserURL, &scopes, &p.MetadataURL,
		&p.Sequence, &createdAt, &changedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scopes), &p.Scopes); err != nil {
		return nil, err
	}
	p.CreatedAt = nanosToTime(createdAt)
	p.ChangedAt = nanosToTime(changedAt)
	return &p, nil
}

func (q *Queries) IDPByID(ctx context.Context, instanceID, idpID string) (*IDP, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	row := q.db.QueryRowContext(ctx,
		`SELECT `+idpColumns+` FROM idps WHERE instance_id = ? AND id = ?`,
		instanceID, idpID)
	idp, err := scanIDP(row)
	if err == sql.ErrNoRows {
		return nil, errs.ThrowNotFound(nil, "QUERY-idp", "idp %s not found", idpID)
	}
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-idp-scan", "failed to read idp")
	}
	return idp, nil
}

func (q *Queries) SearchIDPs(ctx context.Context, instanceID string, search SearchRequest) ([]IDP, int, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, 0, err
	}
	total, err := q.count(ctx, `SELECT COUNT(*) FROM idps WHERE instance_id = ?`, instanceID)
	if err != nil {
		return nil, 0, err
	}
	order, err := search.orderClause(map[string]bool{
		"name": true, "type": true, "created_at": true, "changed_at": true,
	}, "created_at")
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.queryRows(ctx,
		`SELECT `+idpColumns+` FROM idps WHERE instance_id = ?`+order,
		instanceID, search.limit(), search.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var idps []IDP
	for rows.Next() {
		idp, err := scanIDP(rows)
		if err != nil {
			return nil, 0, errs.ThrowInternal(err, "QUERY-idps-scan", "failed to read idps")
		}
		idps = append(idps, *idp)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errs.ThrowInternal(err, "QUERY-idps-rows", "failed to read idps")
	}
	return idps, total, nil
}

const intentColumns = `instance_id, id, resource_owner, idp_id, idp_type, state, state_token,
	user_id, failure_reason, expires_at, sequence, created_at, changed_at`

func scanIntent(row interface{ Scan(...any) error }) (*Intent, error) {
	var i Intent
	var expiresAt, createdAt, changedAt int64
	err := row.Scan(&i.InstanceID, &i.ID, &i.ResourceOwner, &i.IDPID, &i.IDPType, &i.State,
		&i.StateToken, &i.UserID, &i.FailureReason, &expiresAt,
		&i.Sequence, &createdAt, &changedAt)
	if err != nil {
		return nil, err
	}
	i.ExpiresAt = nanosToTime(expiresAt)
	i.CreatedAt = nanosToTime(createdAt)
	i.ChangedAt = nanosToTime(changedAt)
	return &i, nil
}

// IntentByID returns the intent in any state, for audit.
func (q *Queries) IntentByID(ctx context.Context, instanceID, intentID string) (*Intent, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	row := q.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM idp_intents WHERE instance_id = ? AND id = ?`,
		instanceID, intentID)
	intent, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, errs.ThrowNotFound(nil, "QUERY-intent", "intent %s not found", intentID)
	}
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-intent-scan", "failed to read intent")
	}
	return intent, nil
}

// IntentByState resolves the IDP callback's state parameter to its intent.
// Only started, unexpired intents qualify; anything else is NotFound so a
// replayed or forged state leaks nothing.
func (q *Queries) IntentByState(ctx context.Context, instanceID, stateToken string) (*Intent, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	row := q.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM idp_intents
		 WHERE instance_id = ? AND state_token = ? AND state = ? AND expires_at > ?`,
		instanceID, stateToken, string(domain.IntentStateStarted), q.now().UnixNano())
	intent, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, errs.ThrowNotFound(nil, "QUERY-intent-state", "no open intent for state")
	}
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-intent-state-scan", "failed to read intent")
	}
	return intent, nil
}
