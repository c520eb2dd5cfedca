package views

import (
	"time"

	"github.com/ezpaylabs/transfer-engine/pkg"
)

// TransferRequest is the POST /transaction/transfer body. The receiver is
// addressed by account number, the value a sender actually knows; it is
// resolved to an account id before execution.
type TransferRequest struct {
	FromAccountID   string `json:"fromAccountId" binding:"required,uuid"`
	ToAccountNumber string `json:"toAccountNumber" binding:"required,numeric,min=10,max=14"`
	Amount          int64  `json:"amount" binding:"required,gt=0"`
	Memo            string `json:"memo" binding:"max=100"`
	Category        string `json:"category" binding:"max=30"`
}

// TransferResult is the terminal outcome of a transfer attempt. It is what the
// API returns, what the idempotency guard replays for duplicate keys, and is
// therefore JSON-serializable.
type TransferResult struct {
	TransferID     string             `json:"transferId"`
	Status         pkg.TransferStatus `json:"status"`
	SenderBalance  int64              `json:"senderBalance"`
	ErrorCode      string             `json:"errorCode,omitempty"`
	Message        string             `json:"message,omitempty"`
	IdempotencyKey string             `json:"idempotencyKey"`
	Replayed       bool               `json:"-"`
}

// TransferEvent is the Kafka payload published on the transfer events topic
// after a transfer reaches a terminal status.
type TransferEvent struct {
	TransferID        string             `json:"transferId" validate:"required,uuid"`
	SenderAccountID   string             `json:"senderAccountId" validate:"required,uuid"`
	ReceiverAccountID string             `json:"receiverAccountId" validate:"required,uuid"`
	Amount            int64              `json:"amount" validate:"required,gt=0"`
	Memo              string             `json:"memo"`
	Category          string             `json:"category"`
	Status            pkg.TransferStatus `json:"status" validate:"required,oneof=SUCCESS FAILED"`
	Message           string             `json:"message,omitempty"`
	OccurredAt        time.Time          `json:"occurredAt"`
}

// AccountInfo is the pre-transfer confirmation lookup payload.
type AccountInfo struct {
	AccountID     string `json:"accountId"`
	AccountNumber string `json:"accountNumber"`
	BankName      string `json:"bankName"`
	OwnerName     string `json:"ownerName"`
}

// CreateAccountRequest is the POST /account body.
type CreateAccountRequest struct {
	UserID         string `json:"userId" binding:"required,uuid"`
	BankName       string `json:"bankName" binding:"required,max=30"`
	InitialBalance int64  `json:"initialBalance" binding:"min=0"`
}

// TransferLimitInfo reports a user's configured limits and today's usage.
type TransferLimitInfo struct {
	UserID              string `json:"userId"`
	DailyLimit          int64  `json:"dailyLimit"`
	PerTransactionLimit int64  `json:"perTransactionLimit"`
	UsedAmount          int64  `json:"usedAmount"`
	RemainingAmount     int64  `json:"remainingAmount"`
}

// TransferLimitRequest is the admin limit update body.
type TransferLimitRequest struct {
	DailyLimit          int64 `json:"dailyLimit" binding:"required,gt=0"`
	PerTransactionLimit int64 `json:"perTransactionLimit" binding:"required,gt=0"`
}

// TransactionInfo is one row of account history.
type TransactionInfo struct {
	TransferID        string             `json:"transferId"`
	SenderAccountID   string             `json:"senderAccountId"`
	ReceiverAccountID string             `json:"receiverAccountId"`
	Amount            int64              `json:"amount"`
	Memo              string             `json:"memo"`
	Category          string             `json:"category"`
	Status            pkg.TransferStatus `json:"status"`
	CreatedAt         time.Time          `json:"createdAt"`
}
