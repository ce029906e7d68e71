package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"mailguard/pkg/domain"
)

const migrateLockID int64 = 61524470

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &SignupKeyModel{}, &PolicyModel{}, &DailyUsageModel{}, &TokenUsageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "password_hash", "role", "updated_at"}),
	}).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrUsernameTaken
	}
	return err
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns users ordered by creation time.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at asc, id asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(models))
	for _, m := range models {
		out = append(out, userFromModel(m))
	}
	return out, nil
}

// DeleteUser removes a user together with its override and usage rows.
func (s *GormStore) DeleteUser(id string) (bool, error) {
	deleted := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("principal_id = ?", id).Delete(&DailyUsageModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("tenant = ?", id).Delete(&PolicyModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&UserModel{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// UpsertAdmin creates the admin or resets its password and role.
func (s *GormStore) UpsertAdmin(id, username, passwordHash string) (domain.User, error) {
	now := time.Now().UTC()
	model := UserModel{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         string(domain.RoleAdmin),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"password_hash", "role", "updated_at"}),
	}).Create(&model).Error; err != nil {
		return domain.User{}, err
	}
	u, ok, err := s.GetUserByUsername(username)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, fmt.Errorf("admin %q missing after upsert", username)
	}
	return u, nil
}

// CreateSignupKeys stores new unused keys.
func (s *GormStore) CreateSignupKeys(keys []domain.SignupKey) error {
	if len(keys) == 0 {
		return nil
	}
	models := make([]SignupKeyModel, 0, len(keys))
	for _, k := range keys {
		models = append(models, SignupKeyModel{Token: k.Token, CreatedAt: k.CreatedAt})
	}
	return s.db.Create(&models).Error
}

// ListSignupKeys returns keys newest first.
func (s *GormStore) ListSignupKeys() ([]domain.SignupKey, error) {
	var models []SignupKeyModel
	if err := s.db.Order("created_at desc, token asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.SignupKey, 0, len(models))
	for _, m := range models {
		k := domain.SignupKey{Token: m.Token, Revoked: m.Revoked, CreatedAt: m.CreatedAt, UsedAt: m.UsedAt}
		if m.UsedBy != nil {
			k.UsedBy = *m.UsedBy
		}
		out = append(out, k)
	}
	return out, nil
}

// RevokeSignupKey marks a key revoked.
func (s *GormStore) RevokeSignupKey(token string) (bool, error) {
	res := s.db.Model(&SignupKeyModel{}).Where("token = ?", token).Update("revoked", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RegisterWithSignupKey consumes the key with a conditional update and creates
// the user and its policy override in the same transaction.
func (s *GormStore) RegisterWithSignupKey(token string, user domain.User, seed domain.Policy) error {
	doc, err := json.Marshal(seed)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&SignupKeyModel{}).
			Where("token = ? AND revoked = ? AND used_by IS NULL", token, false).
			Updates(map[string]any{"used_by": user.ID, "used_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var key SignupKeyModel
			if err := tx.First(&key, "token = ?", token).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrSignupKeyInvalid
				}
				return err
			}
			if key.Revoked {
				return ErrSignupKeyInvalid
			}
			return ErrSignupKeyUsed
		}
		model := userToModel(user)
		if err := tx.Create(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrUsernameTaken
			}
			return err
		}
		return tx.Create(&PolicyModel{
			Tenant:    user.ID,
			Version:   1,
			Document:  datatypes.JSON(doc),
			UpdatedAt: now,
		}).Error
	})
}

// GetPolicy returns the stored policy for tenant.
func (s *GormStore) GetPolicy(tenant string) (domain.StoredPolicy, bool, error) {
	var model PolicyModel
	if err := s.db.First(&model, "tenant = ?", tenant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.StoredPolicy{}, false, nil
		}
		return domain.StoredPolicy{}, false, err
	}
	var p domain.Policy
	if err := json.Unmarshal(model.Document, &p); err != nil {
		return domain.StoredPolicy{}, false, fmt.Errorf("decode policy %q: %w", tenant, err)
	}
	return domain.StoredPolicy{Tenant: model.Tenant, Version: model.Version, Policy: p}, true, nil
}

// CompareAndSwapPolicy writes policy under a row lock if the version matches.
func (s *GormStore) CompareAndSwapPolicy(tenant string, expected int64, policy domain.Policy) (int64, error) {
	doc, err := json.Marshal(policy)
	if err != nil {
		return 0, fmt.Errorf("encode policy: %w", err)
	}
	next := expected + 1
	err = s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if expected == 0 {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&PolicyModel{
				Tenant:    tenant,
				Version:   next,
				Document:  datatypes.JSON(doc),
				UpdatedAt: now,
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrPolicyConflict
			}
			return nil
		}
		var current PolicyModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, "tenant = ?", tenant).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPolicyConflict
			}
			return err
		}
		if current.Version != expected {
			return ErrPolicyConflict
		}
		return tx.Model(&PolicyModel{}).Where("tenant = ?", tenant).Updates(map[string]any{
			"version":    next,
			"document":   datatypes.JSON(doc),
			"updated_at": now,
		}).Error
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

const reserveUsageSQL = `
INSERT INTO daily_usage_models (principal_id, day, used_count, updated_at)
VALUES (?, ?, 1, ?)
ON CONFLICT (principal_id, day) DO UPDATE
SET used_count = daily_usage_models.used_count + 1, updated_at = EXCLUDED.updated_at
WHERE daily_usage_models.used_count < ?
RETURNING used_count`

// ReserveDailyUsage performs a conditional upsert so check and increment are
// a single statement.
func (s *GormStore) ReserveDailyUsage(principalID, day string, limit int) (int, error) {
	if limit <= 0 {
		used, err := s.DailyUsage(principalID, day)
		if err != nil {
			return 0, err
		}
		return used, domain.ErrQuotaExhausted
	}
	var counts []int
	if err := s.db.Raw(reserveUsageSQL, principalID, day, time.Now().UTC(), limit).Scan(&counts).Error; err != nil {
		return 0, err
	}
	if len(counts) == 0 {
		used, err := s.DailyUsage(principalID, day)
		if err != nil {
			return 0, err
		}
		return used, domain.ErrQuotaExhausted
	}
	return counts[0], nil
}

// ReleaseDailyUsage undoes one reservation, never going below zero.
func (s *GormStore) ReleaseDailyUsage(principalID, day string) error {
	return s.db.Model(&DailyUsageModel{}).
		Where("principal_id = ? AND day = ? AND used_count > 0", principalID, day).
		Updates(map[string]any{
			"used_count": gorm.Expr("used_count - 1"),
			"updated_at": time.Now().UTC(),
		}).Error
}

// DailyUsage returns the counter for one principal and day.
func (s *GormStore) DailyUsage(principalID, day string) (int, error) {
	var model DailyUsageModel
	if err := s.db.First(&model, "principal_id = ? AND day = ?", principalID, day).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return model.UsedCount, nil
}

// ClearDailyUsage deletes every usage row of one principal.
func (s *GormStore) ClearDailyUsage(principalID string) error {
	return s.db.Where("principal_id = ?", principalID).Delete(&DailyUsageModel{}).Error
}

// AddTokenUsage applies additive upserts for every delta.
func (s *GormStore) AddTokenUsage(deltas map[string]domain.TokenUsage) error {
	if len(deltas) == 0 {
		return nil
	}
	keys := make([]string, 0, len(deltas))
	for k := range deltas {
		keys = append(keys, k)
	}
	// Fixed order keeps concurrent flushes from deadlocking on row locks.
	sort.Strings(keys)
	now := time.Now().UTC()
	rows := make([]TokenUsageModel, 0, len(keys))
	for _, k := range keys {
		d := deltas[k]
		rows = append(rows, TokenUsageModel{ModelKey: k, InputTokens: d.InputTokens, OutputTokens: d.OutputTokens, UpdatedAt: now})
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "model_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"input_tokens":  gorm.Expr("token_usage_models.input_tokens + EXCLUDED.input_tokens"),
			"output_tokens": gorm.Expr("token_usage_models.output_tokens + EXCLUDED.output_tokens"),
			"updated_at":    gorm.Expr("EXCLUDED.updated_at"),
		}),
	}).Create(&rows).Error
}

// TokenUsage returns all per-model counters.
func (s *GormStore) TokenUsage() (map[string]domain.TokenUsage, error) {
	var models []TokenUsageModel
	if err := s.db.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make(map[string]domain.TokenUsage, len(models))
	for _, m := range models {
		out[m.ModelKey] = domain.TokenUsage{InputTokens: m.InputTokens, OutputTokens: m.OutputTokens}
	}
	return out, nil
}

func userToModel(u domain.User) UserModel {
	now := time.Now().UTC()
	created := u.CreatedAt
	if created.IsZero() {
		created = now
	}
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    created,
		UpdatedAt:    now,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		CreatedAt:    m.CreatedAt,
	}
}
