package db

import (
	"hash/fnv"

	"gorm.io/gorm"
)

// TryAdvisoryXactLock takes a transaction-scoped advisory lock keyed by name.
// It returns false if another session holds it. Outside Postgres it always succeeds.
func TryAdvisoryXactLock(tx *gorm.DB, name string) (bool, error) {
	if !IsPostgres(tx) {
		return true, nil
	}
	var ok bool
	if err := tx.Raw("SELECT pg_try_advisory_xact_lock(?)", advisoryKey(name)).Scan(&ok).Error; err != nil {
		return false, err
	}
	return ok, nil
}

// AdvisoryXactLock waits for the transaction-scoped advisory lock keyed by
// name. Outside Postgres it returns at once.
func AdvisoryXactLock(tx *gorm.DB, name string) error {
	if !IsPostgres(tx) {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", advisoryKey(name)).Error
}

func advisoryKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}
