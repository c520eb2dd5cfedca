package pkg

const (
	HeaderTraceId        string = "X-Trace-Id"
	HeaderIdempotencyKey string = "Idempotency-Key"
)

const (
	TraceId        string = "trace_id"
	IdempotencyKey string = "idempotency_key"
	TransferId     string = "transfer_id"
)

type TransferStatus string

const (
	TransferStatusPending TransferStatus = "PENDING"
	TransferStatusSuccess TransferStatus = "SUCCESS"
	TransferStatusFailed  TransferStatus = "FAILED"
)

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusLocked AccountStatus = "LOCKED"
)

type NotificationKind string

const (
	NotificationDeposit        NotificationKind = "deposit"
	NotificationWithdrawal     NotificationKind = "withdrawal"
	NotificationTransferFailed NotificationKind = "transfer_failed"
)
