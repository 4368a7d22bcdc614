package core

import "errors"

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// Failure kinds a transaction can revert with. Handlers wrap these with
// context; callers match them with errors.Is.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotOwner            = errors.New("not owner")
	ErrNotApproved         = errors.New("not approved")
	ErrAlreadySettled      = errors.New("already settled")
	ErrAlreadyRedeemed     = errors.New("voucher already redeemed")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrBidTooLow           = errors.New("bid too low")
	ErrAuctionNotEnded     = errors.New("auction not ended")
	ErrAuctionEnded        = errors.New("auction already ended")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrNotEscrowed         = errors.New("asset not escrowed")
	ErrAlreadyEscrowed     = errors.New("asset already escrowed")
	ErrNothingToWithdraw   = errors.New("nothing to withdraw")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotPayable          = errors.New("operation does not accept value")
	ErrOverflow            = errors.New("arithmetic overflow")
)
