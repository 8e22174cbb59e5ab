package store

import "go.uber.org/zap"

// SetLogger sets the logger used for best-effort failures.
func (db *DB) SetLogger(l *zap.Logger) {
	db.log = l
}

func (db *DB) logger() *zap.Logger {
	if db.log == nil {
		return zap.NewNop()
	}
	return db.log
}

func errField(err error) zap.Field { return zap.Error(err) }

func nodeField(id string) zap.Field { return zap.String("node_id", id) }
