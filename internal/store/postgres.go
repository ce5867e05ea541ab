package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"roadassist/internal/model"
)

// Postgres keeps the client state in a shared database, for deployments
// where several workstations act for the same identity (dispatch desks).
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	p := &Postgres{db: db}
	if err := p.migrate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS client_state (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS job_history (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL,
			role TEXT NOT NULL,
			vehicle_type TEXT,
			service_type TEXT,
			status TEXT NOT NULL,
			rating INT,
			feedback TEXT,
			closed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) get(ctx context.Context, key string) (string, error) {
	var v string
	err := p.db.QueryRowContext(ctx, `SELECT v FROM client_state WHERE k=$1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (p *Postgres) put(ctx context.Context, key, val string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO client_state (k, v, updated_at) VALUES ($1,$2,now())
		 ON CONFLICT (k) DO UPDATE SET v=EXCLUDED.v, updated_at=now()`, key, val)
	return err
}

func (p *Postgres) del(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM client_state WHERE k=$1`, key)
	return err
}

func (p *Postgres) Session(ctx context.Context) (model.Session, error) {
	role, err := p.get(ctx, "session_role")
	if err != nil {
		return model.Session{}, err
	}
	phone, err := p.get(ctx, "session_phone")
	if err != nil {
		return model.Session{}, err
	}
	name, _ := p.get(ctx, "session_name")
	return model.Session{Role: model.Role(role), Phone: phone, Name: name}, nil
}

func (p *Postgres) SaveSession(ctx context.Context, s model.Session) error {
	if err := p.put(ctx, "session_role", string(s.Role)); err != nil {
		return err
	}
	if err := p.put(ctx, "session_phone", s.Phone); err != nil {
		return err
	}
	return p.put(ctx, "session_name", s.Name)
}

func (p *Postgres) ClearSession(ctx context.Context) error {
	for _, k := range []string{"session_role", "session_phone", "session_name", "active_request_id", "completed_request_id"} {
		if err := p.del(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) ActiveRequestID(ctx context.Context) (string, error) {
	v, err := p.get(ctx, "active_request_id")
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (p *Postgres) SetActiveRequest(ctx context.Context, requestID string) error {
	return p.put(ctx, "active_request_id", requestID)
}

func (p *Postgres) ClearActiveRequest(ctx context.Context, requestID string) error {
	// conditional delete keeps the holder check atomic across clients
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM client_state WHERE k='active_request_id' AND v=$1`, requestID)
	return err
}

func (p *Postgres) CompletedRequestID(ctx context.Context) (string, error) {
	v, err := p.get(ctx, "completed_request_id")
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (p *Postgres) SetCompletedRequest(ctx context.Context, requestID string) error {
	return p.put(ctx, "completed_request_id", requestID)
}

func (p *Postgres) ClearCompletedRequest(ctx context.Context) error {
	return p.del(ctx, "completed_request_id")
}

func (p *Postgres) AppendJob(ctx context.Context, rec model.JobRecord) error {
	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO job_history (id, request_id, role, vehicle_type, service_type, status, rating, feedback)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		id, rec.RequestID, string(rec.Role), rec.VehicleType, rec.ServiceType, string(rec.Status), rec.Rating, rec.Feedback)
	return err
}

func (p *Postgres) Jobs(ctx context.Context, limit int) ([]model.JobRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, request_id, role, COALESCE(vehicle_type,''), COALESCE(service_type,''),
		        status, COALESCE(rating,0), COALESCE(feedback,''), closed_at
		 FROM job_history ORDER BY closed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.JobRecord
	for rows.Next() {
		var r model.JobRecord
		var role, status string
		if err := rows.Scan(&r.ID, &r.RequestID, &role, &r.VehicleType, &r.ServiceType, &status, &r.Rating, &r.Feedback, &r.ClosedAt); err != nil {
			return nil, err
		}
		r.Role = model.Role(role)
		r.Status = model.RequestStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error { return p.db.Close() }
