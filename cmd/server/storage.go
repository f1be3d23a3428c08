package main

import (
	"context"
	"fmt"

	gormrepo "animstream/internal/adapter/repo/gorm"
	"animstream/internal/adapter/repo/memory"
	"animstream/internal/app/ports"
	"animstream/internal/config"

	"gorm.io/gorm"
)

const (
	commandNamespace = "history"
	logNamespace     = "logs"
)

type storage struct {
	state    ports.StateRepository
	tx       ports.TxManager
	commands ports.ArchiveStore
	logs     ports.ArchiveStore
	close    func() error
}

func openStorage(ctx context.Context, cfg config.Config) (storage, error) {
	switch cfg.DBDriver {
	case config.DriverMemory:
		store := memory.NewStore()
		return storage{
			state:    memory.NewStateRepo(store),
			tx:       memory.NewTxManager(store),
			commands: memory.NewArchiveStore(store, commandNamespace),
			logs:     memory.NewArchiveStore(store, logNamespace),
			close:    func() error { return nil },
		}, nil
	case config.DriverSQLite:
		db, err := gormrepo.OpenSQLite(cfg.DBDSN)
		if err != nil {
			return storage{}, err
		}
		if err := gormrepo.AutoMigrate(ctx, db); err != nil {
			_ = gormrepo.Close(db)
			return storage{}, err
		}
		return gormStorage(db), nil
	case config.DriverPostgres:
		db, err := gormrepo.OpenPostgres(cfg.DBDSN)
		if err != nil {
			return storage{}, err
		}
		return gormStorage(db), nil
	default:
		return storage{}, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}

func gormStorage(db *gorm.DB) storage {
	return storage{
		state:    gormrepo.NewStateRepo(db),
		tx:       gormrepo.NewTxManager(db),
		commands: gormrepo.NewArchiveStore(db, commandNamespace),
		logs:     gormrepo.NewArchiveStore(db, logNamespace),
		close:    func() error { return gormrepo.Close(db) },
	}
}
