package repository

import "errors"

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountAlreadyExists = errors.New("account already exists")
	ErrMailNotFound         = errors.New("mail not found")
	ErrInvalidInput         = errors.New("invalid input parameters")
)
