package postgres

import "sucupira/internal/storage"

func init() {
	storage.Register("postgres", New)
}
