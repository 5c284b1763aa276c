package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mhendzel2/ELNOTE-sub001/internal/apperr"
	"github.com/mhendzel2/ELNOTE-sub001/internal/audit"
)

// Service implements login/refresh/logout and device management against
// Postgres, following the plain database/sql + raw-SQL style of the
// recovered original ELNOTE fragments.
type Service struct {
	db     *sql.DB
	tokens *TokenIssuer
	refreshTTL time.Duration
}

func NewService(db *sql.DB, tokens *TokenIssuer, refreshTTL time.Duration) *Service {
	return &Service{db: db, tokens: tokens, refreshTTL: refreshTTL}
}

// LoginResult is returned by Login.
type LoginResult struct {
	AccessToken  string
	AccessExpiry time.Time
	RefreshToken string
	DeviceID     string
	UserID       string
	Role         Role
}

// CreateUser inserts a new user (admin-provisioning or seed path). Caller
// authorizes.
func (s *Service) CreateUser(ctx context.Context, email, password string, role Role) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, apperr.InvalidInput("email and password are required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, role) VALUES ($1, $2, $3)
		RETURNING id
	`, email, hash, string(role)).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("email already registered")
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &User{ID: id, Email: email, PasswordHash: hash, Role: role}, nil
}

// Login verifies credentials, creates a Device row, and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password, deviceName string) (*LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	var u User
	var roleStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &roleStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.Unauthorized("invalid credentials")
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	u.Role = Role(roleStr)
	if !VerifyPassword(u.PasswordHash, password) {
		return nil, apperr.Unauthorized("invalid credentials")
	}

	rawRefresh, refreshHash, err := NewRefreshToken()
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().UTC().Add(s.refreshTTL)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin login tx: %w", err)
	}
	defer tx.Rollback()

	var deviceID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO devices (user_id, device_name, refresh_token_hash, refresh_token_expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, u.ID, deviceName, refreshHash, expiresAt).Scan(&deviceID)
	if err != nil {
		return nil, fmt.Errorf("insert device: %w", err)
	}

	if err := audit.Append(ctx, tx, u.ID, "auth.login", "user", u.ID, map[string]any{
		"deviceId":   deviceID,
		"deviceName": deviceName,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit login tx: %w", err)
	}

	access, exp, err := s.tokens.IssueAccessToken(u.ID, u.Role, deviceID)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:  access,
		AccessExpiry: exp,
		RefreshToken: rawRefresh,
		DeviceID:     deviceID,
		UserID:       u.ID,
		Role:         u.Role,
	}, nil
}

// Refresh exchanges a valid, non-revoked refresh token for a new access
// token. Refresh tokens are not rotated on use (an open question in the
// spec, left as the stable-token default).
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	hash := HashRefreshToken(refreshToken)

	var (
		deviceID, userID, roleStr string
		revokedAt                 sql.NullTime
		expiresAt                 time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT d.id, u.id, u.role, d.revoked_at, d.refresh_token_expires_at
		FROM devices d
		JOIN users u ON u.id = d.user_id
		WHERE d.refresh_token_hash = $1
	`, hash).Scan(&deviceID, &userID, &roleStr, &revokedAt, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.Unauthorized("invalid refresh token").WithFields(map[string]any{"kind": "InvalidRefreshToken"})
		}
		return nil, fmt.Errorf("load device for refresh: %w", err)
	}
	if revokedAt.Valid || time.Now().UTC().After(expiresAt) {
		return nil, apperr.Unauthorized("invalid refresh token").WithFields(map[string]any{"kind": "InvalidRefreshToken"})
	}

	access, exp, err := s.tokens.IssueAccessToken(userID, Role(roleStr), deviceID)
	if err != nil {
		return nil, err
	}

	if err := audit.Append(ctx, s.db, userID, "auth.refresh", "user", userID, map[string]any{
		"deviceId": deviceID,
	}); err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:  access,
		AccessExpiry: exp,
		RefreshToken: refreshToken,
		DeviceID:     deviceID,
		UserID:       userID,
		Role:         Role(roleStr),
	}, nil
}

// Logout revokes the device backing refreshToken.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	hash := HashRefreshToken(refreshToken)
	var deviceID, userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT d.id, d.user_id FROM devices d WHERE d.refresh_token_hash = $1 AND d.revoked_at IS NULL
	`, hash).Scan(&deviceID, &userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return apperr.Unauthorized("invalid refresh token").WithFields(map[string]any{"kind": "InvalidRefreshToken"})
		}
		return fmt.Errorf("load device for logout: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin logout tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE devices SET revoked_at = now() WHERE id = $1`, deviceID); err != nil {
		return fmt.Errorf("revoke device: %w", err)
	}
	if err := audit.Append(ctx, tx, userID, "auth.logout", "user", userID, map[string]any{
		"deviceId": deviceID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// VerifyUserPassword reauthenticates userID against password, independent
// of any session token. Used by flows (signing, destructive admin actions)
// that require proof of presence beyond a bearer token.
func (s *Service) VerifyUserPassword(ctx context.Context, userID, password string) error {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id = $1`, userID).Scan(&hash)
	if err == sql.ErrNoRows {
		return apperr.Unauthorized("invalid credentials")
	}
	if err != nil {
		return fmt.Errorf("load user for reauth: %w", err)
	}
	if !VerifyPassword(hash, password) {
		return apperr.Unauthorized("invalid credentials")
	}
	return nil
}

// ListDevices returns the caller's own non-revoked devices.
func (s *Service) ListDevices(ctx context.Context, userID string) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, device_name, refresh_token_expires_at, revoked_at, created_at
		FROM devices WHERE user_id = $1 AND revoked_at IS NULL ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var d Device
		var revokedAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.UserID, &d.DeviceName, &d.RefreshTokenExpiresAt, &revokedAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		if revokedAt.Valid {
			d.RevokedAt = &revokedAt.Time
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RevokeDevice revokes one of the caller's own devices.
func (s *Service) RevokeDevice(ctx context.Context, userID, deviceID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET revoked_at = now() WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL
	`, deviceID, userID)
	if err != nil {
		return fmt.Errorf("revoke device: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("device not found")
	}
	return nil
}

// SeedDefaultAdmin creates a known-credential default admin if none exists
// yet, so a fresh on-prem install always has a way in. Not a production
// credential: the row is seeded with must_change_password set, and
// ResetDefaultAdminPassword rotates it once. Login does not check
// must_change_password, so the seeded password works until it is rotated.
func (s *Service) SeedDefaultAdmin(ctx context.Context, email, password string) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_default_admin`).Scan(&count); err != nil {
		return fmt.Errorf("check default admin: %w", err)
	}
	if count > 0 {
		return nil
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (email, password_hash, role, must_change_password, is_default_admin)
		VALUES ($1, $2, 'admin', true, true)
		ON CONFLICT (email) DO NOTHING
	`, strings.ToLower(email), hash)
	if err != nil {
		return fmt.Errorf("seed default admin: %w", err)
	}
	return nil
}

// ResetDefaultAdminPassword rotates the default admin's password exactly
// once, only while must_change_password is still set.
func (s *Service) ResetDefaultAdminPassword(ctx context.Context, newPassword string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $1, must_change_password = false
		WHERE is_default_admin AND must_change_password
	`, hash)
	if err != nil {
		return fmt.Errorf("reset default admin password: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.InvalidInput("default admin password has already been rotated")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "unique") || strings.Contains(err.Error(), "duplicate key")
}
