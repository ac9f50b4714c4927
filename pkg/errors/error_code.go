package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 102
	ErrCodeInvalidInstrument    ErrorCode = 103
	ErrCodeMissingParameter     ErrorCode = 104
	ErrCodeInvalidVersion       ErrorCode = 105

	// Market data errors (200-299)
	ErrCodeInsufficientHistory ErrorCode = 200
	ErrCodeUnknownInstrument   ErrorCode = 201
	ErrCodeFeedFailed          ErrorCode = 202

	// Indicator errors (300-399)
	ErrCodeIndicatorNotFound      ErrorCode = 300
	ErrCodeIndicatorAlreadyExists ErrorCode = 301
	ErrCodeIndicatorCalculation   ErrorCode = 302

	// Strategy errors (400-499)
	ErrCodeStaleSignal ErrorCode = 400
	ErrCodeUnknownRule ErrorCode = 401

	// Execution errors (500-599)
	ErrCodeRiskRejected        ErrorCode = 500
	ErrCodeOrderRejected       ErrorCode = 501
	ErrCodeExchangeTimeout     ErrorCode = 502
	ErrCodeOrderUnknownState   ErrorCode = 503
	ErrCodeOrderInFlight       ErrorCode = 504
	ErrCodeOrderNotFound       ErrorCode = 505
	ErrCodeCooldownActive      ErrorCode = 506
	ErrCodeInvalidTransition   ErrorCode = 507
	ErrCodeExchangeUnavailable ErrorCode = 508

	// Journal errors (600-699)
	ErrCodeJournalInitFailed  ErrorCode = 600
	ErrCodeJournalWriteFailed ErrorCode = 601
	ErrCodeJournalQueryFailed ErrorCode = 602

	// Engine errors (700-799)
	ErrCodeEngineInitFailed     ErrorCode = 700
	ErrCodeEngineNotInitialized ErrorCode = 701
	ErrCodeEngineStopped        ErrorCode = 702
)
