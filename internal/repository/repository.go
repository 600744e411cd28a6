// Package repository provides gorm-backed data access. Every query that reads
// user content is scoped to its owner.
package repository

import (
	"errors"

	"gorm.io/gorm"
)

// DefaultLimit and MaxLimit bound list queries.
const (
	DefaultLimit = 100
	MaxLimit     = 100
)

// Page is an offset pagination window.
type Page struct {
	Skip  int
	Limit int
}

// normalize clamps the window to sane values.
func (p Page) normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

func (p Page) apply(q *gorm.DB) *gorm.DB {
	p = p.normalize()
	return q.Offset(p.Skip).Limit(p.Limit)
}

func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
