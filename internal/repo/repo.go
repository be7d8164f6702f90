package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/servease/dispatch-service/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when the referenced request/user/transaction is unknown.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a compare-and-swap on request status loses the
// race; the caller must re-read and retry.
var ErrConflict = errors.New("status conflict")

// ErrAlreadyPaid is returned by MarkCommissionPaid for a non-pending row.
var ErrAlreadyPaid = errors.New("commission already paid")

// RequestFilter narrows ListRequests. Zero values mean "no filter".
type RequestFilter struct {
	Status      model.Status
	ServiceType model.ServiceType
	AssigneeID  uint64
	CustomerID  uint64
	Limit       int
}

// RepositoryInterface restricts Repo methods (makes unit-test mocks possible).
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	CreateRequest(ctx context.Context, tx *gorm.DB, req *model.ServiceRequest) error
	GetRequest(ctx context.Context, tx *gorm.DB, id uint64) (*model.ServiceRequest, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]model.ServiceRequest, error)
	UpdateRequestStatus(ctx context.Context, tx *gorm.DB, id uint64, expected model.Status, updates map[string]interface{}) error
	UpdateAssignment(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]interface{}) error

	InsertCommission(ctx context.Context, tx *gorm.DB, row *model.CommissionTransaction) (bool, error)
	ListCommissionsByRequest(ctx context.Context, requestID uint64) ([]model.CommissionTransaction, error)
	ListCommissionsByRecipient(ctx context.Context, userID uint64) ([]model.CommissionTransaction, error)
	MarkCommissionPaid(ctx context.Context, id uint64) error
	SumCommissions(ctx context.Context, userID uint64) (decimal.Decimal, error)
	CommissionRecipients(ctx context.Context) ([]uint64, error)

	GetCommissionConfigs(ctx context.Context, tx *gorm.DB, st model.ServiceType) ([]model.CommissionConfig, error)
	SeedCommissionConfigs(ctx context.Context, rows []model.CommissionConfig) (bool, error)

	GetWallet(ctx context.Context, userID uint64) (*model.WalletAccount, error)
	GetWalletForUpdate(ctx context.Context, tx *gorm.DB, userID uint64) (*model.WalletAccount, error)
	CreateWallet(ctx context.Context, tx *gorm.DB, w *model.WalletAccount) error
	UpdateWallet(ctx context.Context, tx *gorm.DB, userID uint64, newBalance decimal.Decimal, oldVersion uint64) error
	OverwriteWalletBalance(ctx context.Context, userID uint64, balance decimal.Decimal) error

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheBalance(ctx context.Context, userID uint64, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, userID uint64) (decimal.Decimal, error)
	DropCachedBalance(ctx context.Context, userID uint64) error
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// CreateRequest inserts the row and stamps the human-readable request number
// derived from the auto-increment id, all inside the caller's transaction.
func (r *Repository) CreateRequest(ctx context.Context, tx *gorm.DB, req *model.ServiceRequest) error {
	if err := tx.WithContext(ctx).Create(req).Error; err != nil {
		return err
	}
	num := fmt.Sprintf("%s-%06d", req.ServiceType.Prefix(), req.ID)
	if err := tx.WithContext(ctx).Model(&model.ServiceRequest{}).
		Where("id = ?", req.ID).Update("request_number", num).Error; err != nil {
		return err
	}
	req.RequestNumber = num
	return nil
}

// GetRequest loads one request; tx may be nil for a plain read.
func (r *Repository) GetRequest(ctx context.Context, tx *gorm.DB, id uint64) (*model.ServiceRequest, error) {
	if tx == nil {
		tx = r.db
	}
	var req model.ServiceRequest
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// ListRequests applies the dashboard filters. AssigneeID matches any of the
// three hierarchy assignment columns.
func (r *Repository) ListRequests(ctx context.Context, f RequestFilter) ([]model.ServiceRequest, error) {
	q := r.db.WithContext(ctx).Model(&model.ServiceRequest{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ServiceType != "" {
		q = q.Where("service_type = ?", f.ServiceType)
	}
	if f.AssigneeID != 0 {
		q = q.Where("pincode_agent_id = ? OR taluk_manager_id = ? OR branch_manager_id = ?",
			f.AssigneeID, f.AssigneeID, f.AssigneeID)
	}
	if f.CustomerID != 0 {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	var reqs []model.ServiceRequest
	err := q.Order("created_at desc").Limit(limit).Find(&reqs).Error
	return reqs, err
}

// UpdateRequestStatus is the optimistic-concurrency guard: the UPDATE only
// matches when the stored status still equals what the caller last observed.
// Zero rows affected means another writer got there first.
func (r *Repository) UpdateRequestStatus(ctx context.Context, tx *gorm.DB, id uint64, expected model.Status, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	res := tx.WithContext(ctx).
		Model(&model.ServiceRequest{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// UpdateAssignment fills hierarchy assignment columns. Callers only pass
// columns that are currently null; assignments are set at most once.
func (r *Repository) UpdateAssignment(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return tx.WithContext(ctx).
		Model(&model.ServiceRequest{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// InsertCommission writes one ledger row. The unique index on
// (service_request_id, recipient_role) plus DO NOTHING makes the insert
// itself the idempotency boundary: false means the row already existed.
func (r *Repository) InsertCommission(ctx context.Context, tx *gorm.DB, row *model.CommissionTransaction) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "service_request_id"}, {Name: "recipient_role"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListCommissionsByRequest returns a request's ledger rows in payout order.
func (r *Repository) ListCommissionsByRequest(ctx context.Context, requestID uint64) ([]model.CommissionTransaction, error) {
	var rows []model.CommissionTransaction
	err := r.db.WithContext(ctx).
		Where("service_request_id = ?", requestID).
		Order("id").Find(&rows).Error
	return rows, err
}

// ListCommissionsByRecipient returns a user's earnings history, newest first.
func (r *Repository) ListCommissionsByRecipient(ctx context.Context, userID uint64) ([]model.CommissionTransaction, error) {
	var rows []model.CommissionTransaction
	err := r.db.WithContext(ctx).
		Where("recipient_user_id = ?", userID).
		Order("created_at desc").Find(&rows).Error
	return rows, err
}

// MarkCommissionPaid flips pending→paid. Balance is untouched: it reflects
// total earned regardless of payout status.
func (r *Repository) MarkCommissionPaid(ctx context.Context, id uint64) error {
	res := r.db.WithContext(ctx).
		Model(&model.CommissionTransaction{}).
		Where("id = ? AND status = ?", id, model.CommissionPending).
		Update("status", model.CommissionPaid)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var row model.CommissionTransaction
		if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return ErrAlreadyPaid
	}
	return nil
}

// SumCommissions totals commission_amount over all of a user's ledger rows,
// pending and paid alike. This is the authoritative balance.
func (r *Repository) SumCommissions(ctx context.Context, userID uint64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&model.CommissionTransaction{}).
		Where("recipient_user_id = ?", userID).
		Select("COALESCE(SUM(commission_amount), 0)").
		Scan(&total).Error
	return total, err
}

// CommissionRecipients lists every user with at least one ledger row.
func (r *Repository) CommissionRecipients(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).
		Model(&model.CommissionTransaction{}).
		Distinct("recipient_user_id").
		Pluck("recipient_user_id", &ids).Error
	return ids, err
}

// GetCommissionConfigs returns the rate table for one service type; tx may
// be nil for a plain read.
func (r *Repository) GetCommissionConfigs(ctx context.Context, tx *gorm.DB, st model.ServiceType) ([]model.CommissionConfig, error) {
	if tx == nil {
		tx = r.db
	}
	var rows []model.CommissionConfig
	err := tx.WithContext(ctx).
		Where("service_type = ?", st).
		Order("id").Find(&rows).Error
	return rows, err
}

// SeedCommissionConfigs inserts the default rate table once. Returns false
// without writing when any config rows already exist.
func (r *Repository) SeedCommissionConfigs(ctx context.Context, rows []model.CommissionConfig) (bool, error) {
	var seeded bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.CommissionConfig{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		seeded = true
		return nil
	})
	return seeded, err
}

// GetWallet is a plain read of the cached balance row.
func (r *Repository) GetWallet(ctx context.Context, userID uint64) (*model.WalletAccount, error) {
	var w model.WalletAccount
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

// GetWalletForUpdate locks the wallet row.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, userID uint64) (*model.WalletAccount, error) {
	var w model.WalletAccount
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWallet inserts a zero-balance row for a first-time recipient.
func (r *Repository) CreateWallet(ctx context.Context, tx *gorm.DB, w *model.WalletAccount) error {
	return tx.WithContext(ctx).Create(w).Error
}

// UpdateWallet with optimistic lock.
func (r *Repository) UpdateWallet(ctx context.Context, tx *gorm.DB, userID uint64, newBalance decimal.Decimal, oldVersion uint64) error {
	now := time.Now()
	res := tx.WithContext(ctx).
		Model(&model.WalletAccount{}).
		Where("user_id = ? AND version = ?", userID, oldVersion).
		Updates(map[string]interface{}{
			"balance":        newBalance,
			"version":        oldVersion + 1,
			"last_synced_at": now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// OverwriteWalletBalance upserts the recomputed balance during reconcile.
func (r *Repository) OverwriteWalletBalance(ctx context.Context, userID uint64, balance decimal.Decimal) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"balance":        balance,
				"version":        gorm.Expr("wallet_account.version + 1"),
				"last_synced_at": now,
				"updated_at":     now,
			}),
		}).
		Create(&model.WalletAccount{UserID: userID, Balance: balance, LastSyncedAt: now}).Error
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed=false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id=?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheBalance writes Redis.
func (r *Repository) CacheBalance(ctx context.Context, userID uint64, bal decimal.Decimal) error {
	return r.rdb.Set(ctx, fmt.Sprintf("balance:%d", userID), bal.String(), 5*time.Minute).Err()
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, userID uint64) (decimal.Decimal, error) {
	str, err := r.rdb.Get(ctx, fmt.Sprintf("balance:%d", userID)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}

// DropCachedBalance invalidates after a reconcile overwrite.
func (r *Repository) DropCachedBalance(ctx context.Context, userID uint64) error {
	return r.rdb.Del(ctx, fmt.Sprintf("balance:%d", userID)).Err()
}
