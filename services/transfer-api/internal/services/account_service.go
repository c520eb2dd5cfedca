package services

import (
	"context"
	"errors"
	"time"

	"github.com/ezpaylabs/transfer-engine/pkg"
	"github.com/ezpaylabs/transfer-engine/pkg/database"
	"github.com/ezpaylabs/transfer-engine/pkg/models"
	"github.com/ezpaylabs/transfer-engine/pkg/repositories"
	"github.com/ezpaylabs/transfer-engine/pkg/utils"
	"github.com/ezpaylabs/transfer-engine/pkg/views"
	"github.com/ezpaylabs/transfer-engine/services/transfer-api/configs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

type AccountService interface {
	CreateAccount(ctx context.Context, traceID string, req views.CreateAccountRequest) (views.AccountInfo, error)
	LookupByNumber(ctx context.Context, traceID string, accountNumber string) (views.AccountInfo, error)
	History(ctx context.Context, traceID string, accountID uuid.UUID, limit int) ([]views.TransactionInfo, error)
	RecentSent(ctx context.Context, traceID string, accountID uuid.UUID, limit int, sort string) ([]views.TransactionInfo, error)
}

type AccountServiceImpl struct {
	logger       *zap.Logger
	cnf          *configs.Config
	db           *database.DB
	accountRepo  repositories.AccountRepository
	userRepo     repositories.UserRepository
	transferRepo repositories.TransferRepository
}

func NewAccountService(logger *zap.Logger, cnf *configs.Config, db *database.DB,
	accountRepo repositories.AccountRepository, userRepo repositories.UserRepository,
	transferRepo repositories.TransferRepository) AccountService {
	return &AccountServiceImpl{
		logger:       logger,
		cnf:          cnf,
		db:           db,
		accountRepo:  accountRepo,
		userRepo:     userRepo,
		transferRepo: transferRepo,
	}
}

// CreateAccount opens an account for an existing user. Account numbers are
// generated randomly; a unique-constraint collision is retried with a fresh
// number up to the configured attempt budget.
func (s *AccountServiceImpl) CreateAccount(ctx context.Context, traceID string, req views.CreateAccountRequest) (views.AccountInfo, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return views.AccountInfo{}, pkg.NewAppError(pkg.ErrInvalidInputCode, "invalid user id", err)
	}
	user, err := s.userRepo.FindById(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return views.AccountInfo{}, pkg.NewAppError(pkg.ErrRecordNotFoundCode, "user not found", err)
		}
		return views.AccountInfo{}, pkg.HandleSQLError(traceID, s.logger, err)
	}

	var account models.Account
	for attempt := 1; ; attempt++ {
		number, err := utils.GenerateAccountNumber(req.BankName)
		if err != nil {
			return views.AccountInfo{}, pkg.NewAppError(pkg.ErrServerCode, "failed to generate account number", err)
		}
		now := time.Now()
		account = models.Account{
			ID:            uuid.New(),
			UserID:        user.ID,
			AccountNumber: number,
			BankName:      req.BankName,
			Balance:       req.InitialBalance,
			Status:        pkg.AccountStatusActive,
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			_, err := s.accountRepo.Create(ctx, tx, account)
			return err
		})
		if err == nil {
			break
		}
		if isDuplicate(err) && attempt < s.cnf.AccountNumberRetry {
			s.logger.Warn("account number collision, regenerating",
				zap.String(pkg.TraceId, traceID), zap.Int("attempt", attempt))
			continue
		}
		return views.AccountInfo{}, pkg.HandleSQLError(traceID, s.logger, err)
	}

	s.logger.Info("account created",
		zap.String(pkg.TraceId, traceID),
		zap.String("account_id", account.ID.String()),
		zap.String("user_id", user.ID.String()))
	return views.AccountInfo{
		AccountID:     account.ID.String(),
		AccountNumber: account.AccountNumber,
		BankName:      account.BankName,
		OwnerName:     user.Username,
	}, nil
}

// LookupByNumber resolves an account number to its owner, used as the
// pre-transfer confirmation step.
func (s *AccountServiceImpl) LookupByNumber(ctx context.Context, traceID string, accountNumber string) (views.AccountInfo, error) {
	if utils.IsEmpty(accountNumber) {
		return views.AccountInfo{}, pkg.NewAppError(pkg.ErrInvalidInputCode, "account number is required", nil)
	}
	account, err := s.accountRepo.FindByNumber(ctx, accountNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return views.AccountInfo{}, pkg.NewDomainError(pkg.ErrAccountNotFoundCode, err)
		}
		return views.AccountInfo{}, pkg.HandleSQLError(traceID, s.logger, err)
	}
	user, err := s.userRepo.FindById(ctx, account.UserID)
	if err != nil {
		return views.AccountInfo{}, pkg.HandleSQLError(traceID, s.logger, err)
	}
	return views.AccountInfo{
		AccountID:     account.ID.String(),
		AccountNumber: account.AccountNumber,
		BankName:      account.BankName,
		OwnerName:     user.Username,
	}, nil
}

// History returns the account's most recent transfers, newest first.
func (s *AccountServiceImpl) History(ctx context.Context, traceID string, accountID uuid.UUID, limit int) ([]views.TransactionInfo, error) {
	if limit <= 0 || limit > s.cnf.HistoryPageSizeMax {
		limit = s.cnf.HistoryPageSizeMax
	}
	if _, err := s.accountRepo.FindById(ctx, accountID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkg.NewDomainError(pkg.ErrAccountNotFoundCode, err)
		}
		return nil, pkg.HandleSQLError(traceID, s.logger, err)
	}
	transfers, err := s.transferRepo.ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, pkg.HandleSQLError(traceID, s.logger, err)
	}
	return toTransactionInfos(transfers), nil
}

// RecentSent returns the account's latest outgoing transfers. Default order is
// newest first; sort=asc flips it.
func (s *AccountServiceImpl) RecentSent(ctx context.Context, traceID string, accountID uuid.UUID, limit int, sort string) ([]views.TransactionInfo, error) {
	if limit <= 0 || limit > s.cnf.HistoryPageSizeMax {
		limit = s.cnf.HistoryPageSizeMax
	}
	transfers, err := s.transferRepo.ListRecentSent(ctx, accountID, limit)
	if err != nil {
		return nil, pkg.HandleSQLError(traceID, s.logger, err)
	}
	out := toTransactionInfos(transfers)
	if sort == "asc" {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func toTransactionInfos(transfers []models.Transfer) []views.TransactionInfo {
	out := make([]views.TransactionInfo, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, views.TransactionInfo{
			TransferID:        t.ID.String(),
			SenderAccountID:   t.SenderAccountID.String(),
			ReceiverAccountID: t.ReceiverAccountID.String(),
			Amount:            t.Amount,
			Memo:              t.Memo,
			Category:          t.Category,
			Status:            t.Status,
			CreatedAt:         t.CreatedAt,
		})
	}
	return out
}

func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
