package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
)

type App struct {
	ID            string
	InstanceID    string
	ResourceOwner string
	ProjectID     string
	Type          domain.AppType
	State         domain.AppState
	Name          string
	ClientID      string
	EntityID      string
	MetadataURL   string
	ACSURL        string
	RedirectURIs  []string
	Sequence      int64
	CreatedAt     time.Time
	ChangedAt     time.Time
}

type AppSearch struct {
	SearchRequest
	InstanceID string
	ProjectID  string
	Type       domain.AppType
	State      domain.AppState
}

var appSortable = map[string]bool{
	"name": true, "type": true, "state": true, "created_at": true, "changed_at": true, "sequence": true,
}

const appColumns = `instance_id, id, resource_owner, project_id, type, state, name,
	client_id, entity_id, metadata_url, acs_url, redirect_uris, sequence, created_at, changed_at`

func scanApp(row interface{ Scan(...any) error }) (*App, error) {
	var a App
	var redirectURIs string
	var createdAt, changedAt int64
	err := row.Scan(&a.InstanceID, &a.ID, &a.ResourceOwner, &a.ProjectID, &a.Type, &a.State, &a.Name,
		&a.ClientID, &a.EntityID, &a.MetadataURL, &a.ACSURL, &redirectURIs,
		&a.Sequence, &createdAt, &changedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(redirectURIs), &a.RedirectURIs); err != nil {
		return nil, err
	}
	a.CreatedAt = nanosToTime(createdAt)
	a.ChangedAt = nanosToTime(changedAt)
	return &a, nil
}

func (q *Queries) appBy(ctx context.Context, condition string, args ...any) (*App, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+appColumns+` FROM apps WHERE `+condition, args...)
	app, err := scanApp(row)
	if err == sql.ErrNoRows {
		return nil, errs.ThrowNotFound(nil, "QUERY-app", "application not found")
	}
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-app-scan", "failed to read application")
	}
	return app, nil
}

func (q *Queries) AppByID(ctx context.Context, instanceID, appID string) (*App, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	return q.appBy(ctx, `instance_id = ? AND id = ?`, instanceID, appID)
}

// AppByClientID resolves an OIDC or API app by its client id, the OIDC
// token-endpoint lookup path.
func (q *Queries) AppByClientID(ctx context.Context, instanceID, clientID string) (*App, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	return q.appBy(ctx, `instance_id = ? AND client_id = ? AND client_id != ''`, instanceID, clientID)
}

// AppByEntityID resolves a SAML app by its entity id (issuer).
func (q *Queries) AppByEntityID(ctx context.Context, instanceID, entityID string) (*App, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	return q.appBy(ctx, `instance_id = ? AND entity_id = ? AND entity_id != ''`, instanceID, entityID)
}

func (q *Queries) SearchApps(ctx context.Context, search AppSearch) ([]App, int, error) {
	if err := requireInstance(search.InstanceID); err != nil {
		return nil, 0, err
	}
	where := ` WHERE instance_id = ?`
	args := []any{search.InstanceID}
	if search.ProjectID != "" {
		where += ` AND project_id = ?`
		args = append(args, search.ProjectID)
	}
	if search.Type != "" {
		where += ` AND type = ?`
		args = append(args, string(search.Type))
	}
	if search.State != "" {
		where += ` AND state = ?`
		args = append(args, string(search.State))
	}

	total, err := q.count(ctx, `SELECT COUNT(*) FROM apps`+where, args...)
	if err != nil {
		return nil, 0, err
	}

	order, err := search.orderClause(appSortable, "created_at")
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.queryRows(ctx, `SELECT `+appColumns+` FROM apps`+where+order,
		append(args, search.limit(), search.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var apps []App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, 0, errs.ThrowInternal(err, "QUERY-apps-scan", "failed to read applications")
		}
		apps = append(apps, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errs.ThrowInternal(err, "QUERY-apps-rows", "failed to read applications")
	}
	return apps, total, nil
}
