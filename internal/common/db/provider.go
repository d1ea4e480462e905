package db

import (
	"context"
	"errors"
)

var (
	ErrNoProvider = errors.New("database provider is nil")
	ErrNoDatabase = errors.New("database is nil")
)

// Provider hands repositories the database their queries run against.
type Provider interface {
	Current() Database
}

// Pool is the process-wide Provider over one connection pool.
type Pool struct {
	database Database
}

func NewPool(database Database) *Pool {
	return &Pool{database: database}
}

func (p *Pool) Current() Database {
	if p == nil {
		return nil
	}
	return p.database
}

// Health pings the database and reports pool usage.
func (p *Pool) Health(ctx context.Context) (Stats, error) {
	database, err := CurrentDatabase(p)
	if err != nil {
		return Stats{}, err
	}
	if err := database.Ping(ctx); err != nil {
		return database.Stats(), err
	}
	return database.Stats(), nil
}

// CurrentDatabase resolves the database behind provider.
func CurrentDatabase(provider Provider) (Database, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	database := provider.Current()
	if database == nil {
		return nil, ErrNoDatabase
	}
	return database, nil
}
