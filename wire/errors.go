package wire

import "fmt"

// ErrorCode classifies every failure the wallet surfaces across a
// trust boundary. Codes travel on the wire next to the human-readable
// message so callers can branch without string matching.
type ErrorCode string

const (
	// CodeAuthError: no password credential has ever been set.
	CodeAuthError ErrorCode = "AUTH_ERROR"
	// CodeInvalidCredential: password mismatch on unlock.
	CodeInvalidCredential ErrorCode = "INVALID_CREDENTIAL"
	// CodeWalletUnavailable: operation requires an Active session.
	CodeWalletUnavailable ErrorCode = "WALLET_UNAVAILABLE"
	// CodeDecryptionFailure: a stored blob failed to decrypt. Non-fatal
	// per blob, reported per wallet.
	CodeDecryptionFailure ErrorCode = "DECRYPTION_FAILURE"
	// CodeInvalidTransaction: malformed or insufficient-fund intent.
	CodeInvalidTransaction ErrorCode = "INVALID_TRANSACTION"
	// CodeNetworkError: RPC endpoint unreachable or non-2xx.
	CodeNetworkError ErrorCode = "NETWORK_ERROR"
	// CodeTimeout: cross-context response not received in budget.
	CodeTimeout ErrorCode = "TIMEOUT"
	// CodeUnknownOperation: unrecognized envelope or action type.
	CodeUnknownOperation ErrorCode = "UNKNOWN_OPERATION"
)

// WalletError is a classified error. It satisfies the error interface
// so it can flow through normal Go error paths inside a process, and
// marshals into a Result at the trust boundary.
type WalletError struct {
	Code    ErrorCode
	Message string
}

func (e *WalletError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errf builds a WalletError with a formatted message.
func Errf(code ErrorCode, format string, args ...interface{}) *WalletError {
	return &WalletError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsWalletError extracts a WalletError, wrapping unclassified errors
// as UNKNOWN_OPERATION so nothing escapes the taxonomy.
func AsWalletError(err error) *WalletError {
	if we, ok := err.(*WalletError); ok {
		return we
	}
	return &WalletError{Code: CodeUnknownOperation, Message: err.Error()}
}

// FailurePayload marshals a bare failure result for an error.
func FailurePayload(err *WalletError) []byte {
	return Marshal(Failed(err))
}
