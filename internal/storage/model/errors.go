package model

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrLastAdmin = errors.New("cannot delete the last admin user")
	ErrDuplicate = errors.New("already exists")
)
