package db

import "github.com/jmoiron/sqlx"

// Pool splits archive traffic into a writing half and a reading half.
//
// The sqlite backend needs the split: WAL mode supports many concurrent
// readers but exactly one writer, so Writer is a single-connection pool and
// Reader fans out. The postgres backend hands the same *sqlx.DB to both
// sides and lets pgx pool internally.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool pairs a writer with a reader. Passing the same connection twice is
// fine; Close closes it once.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Writer is the connection for INSERT, UPDATE, DELETE, and DDL.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader is the connection for SELECTs. Under sqlite it reads WAL snapshots
// and never blocks the writer.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close releases both halves.
func (p *Pool) Close() error {
	err := p.writer.Close()
	if p.reader == p.writer {
		return err
	}
	if rerr := p.reader.Close(); err == nil {
		err = rerr
	}
	return err
}
