package ledger

import "errors"

var (
	// ErrInvalidAsset flags the native sentinel used where a token is required.
	ErrInvalidAsset = errors.New("invalid asset")

	// ErrInvalidAmount flags a nil or non-positive amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance flags a debit exceeding the recorded balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTransferRejected flags a failed external custody pull or release.
	ErrTransferRejected = errors.New("transfer rejected")
)
