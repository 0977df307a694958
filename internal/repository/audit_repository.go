package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

const auditColumns = "id,user_id,user_email,action,resource,resource_id,method,endpoint,ip,user_agent," +
	"status,status_code,details,error_message,created_at"

// AuditRepo appends to and reads from audit_logs.  There is no update path.
type AuditRepo struct{ DB *sql.DB }

func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{DB: db} }

// Create appends one entry.
func (r *AuditRepo) Create(ctx context.Context, e *model.AuditLog) error {
	var details []byte
	if len(e.Details) > 0 {
		var err error
		if details, err = json.Marshal(e.Details); err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
	}
	var statusCode sql.NullInt64
	if e.StatusCode != 0 {
		statusCode = sql.NullInt64{Int64: int64(e.StatusCode), Valid: true}
	}
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO audit_logs ("+auditColumns+") VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)",
		e.ID, nullUint(e.UserID), nullString(e.UserEmail), e.Action, nullString(e.Resource), nullString(e.ResourceID),
		nullString(e.Method), nullString(e.Endpoint), nullString(e.IP), nullString(e.UserAgent),
		e.Status, statusCode, nullBytes(details), nullString(e.ErrorMessage), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// List returns entries matching f, newest first.
func (r *AuditRepo) List(ctx context.Context, f model.AuditFilter) (model.AuditPage, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	if f.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *f.UserID)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *f.Since)
	}
	if f.Until != nil {
		where = append(where, "created_at < ?")
		args = append(args, *f.Until)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := model.AuditPage{Items: []model.AuditLog{}, Limit: limit, Skip: offset}
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+clause, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count audit: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+auditColumns+" FROM audit_logs"+clause+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...)
	if err != nil {
		return page, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return page, err
		}
		page.Items = append(page.Items, *e)
	}
	return page, rows.Err()
}

// DeleteOlderThan removes entries created before cutoff.
func (r *AuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM audit_logs WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanAudit(row rowScanner) (*model.AuditLog, error) {
	var (
		e                                                     model.AuditLog
		userID, statusCode                                    sql.NullInt64
		email, resource, resourceID, method, endpoint, ip, ua sql.NullString
		errMsg                                                sql.NullString
		details                                               []byte
	)
	if err := row.Scan(&e.ID, &userID, &email, &e.Action, &resource, &resourceID, &method, &endpoint, &ip, &ua,
		&e.Status, &statusCode, &details, &errMsg, &e.CreatedAt); err != nil {
		return nil, err
	}
	if userID.Valid {
		id := uint64(userID.Int64)
		e.UserID = &id
	}
	e.UserEmail = email.String
	e.Resource = resource.String
	e.ResourceID = resourceID.String
	e.Method = method.String
	e.Endpoint = endpoint.String
	e.IP = ip.String
	e.UserAgent = ua.String
	e.StatusCode = int(statusCode.Int64)
	e.ErrorMessage = errMsg.String
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
	}
	return &e, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
