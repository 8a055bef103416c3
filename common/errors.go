// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import "errors"

// ConstError is an error type for sentinel errors that can be declared as
// constants.
type ConstError string

func (e ConstError) Error() string {
	return string(e)
}

// Error kinds shared by all components. Their messages are stable and used
// as the kind identifier on the RPC boundary.
const (
	ErrSequenceMismatch      = ConstError("SequenceMismatch")
	ErrInvalidAmount         = ConstError("InvalidAmount")
	ErrInvalidHandle         = ConstError("InvalidHandle")
	ErrDuplicateHandle       = ConstError("DuplicateHandle")
	ErrUnknownAccount        = ConstError("UnknownAccount")
	ErrResourceLimitExceeded = ConstError("ResourceLimitExceeded")
	ErrResourceExhausted     = ConstError("ResourceExhausted")
	ErrInsufficientBalance   = ConstError("InsufficientBalance")
	ErrTimeout               = ConstError("Timeout")
	ErrSubmissionFailed      = ConstError("SubmissionFailed")
	ErrBuildFailed           = ConstError("BuildFailed")
	ErrContractNotFound      = ConstError("ContractNotFound")
	ErrContractExists        = ConstError("ContractExists")
	ErrInvalidCode           = ConstError("InvalidCode")
	ErrInvalidTransaction    = ConstError("InvalidTransaction")
	ErrUnknownFunction       = ConstError("UnknownFunction")
	ErrExecutionFailed       = ConstError("ExecutionFailed")
	ErrUnauthorized          = ConstError("Unauthorized")
)

var kinds = []ConstError{
	ErrSequenceMismatch,
	ErrInvalidAmount,
	ErrInvalidHandle,
	ErrDuplicateHandle,
	ErrUnknownAccount,
	ErrResourceLimitExceeded,
	ErrResourceExhausted,
	ErrInsufficientBalance,
	ErrTimeout,
	ErrSubmissionFailed,
	ErrBuildFailed,
	ErrContractNotFound,
	ErrContractExists,
	ErrInvalidCode,
	ErrInvalidTransaction,
	ErrUnknownFunction,
	ErrExecutionFailed,
	ErrUnauthorized,
}

// KindOf returns the first error kind found in the chain of err, or the
// empty string if err does not carry one.
func KindOf(err error) string {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return string(kind)
		}
	}
	return ""
}

// ParseKind resolves the name of an error kind as produced by KindOf.
func ParseKind(name string) (error, bool) {
	for _, kind := range kinds {
		if string(kind) == name {
			return kind, true
		}
	}
	return nil, false
}
