package main

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/config"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/database"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/photos"
	"github.com/MarcoPoloResearchLab/kindred/backend/internal/users"
	"go.uber.org/zap"
)

type identityStore interface {
	users.Store
	users.AdminStore
}

// openIdentityStore opens the configured backend. The returned func releases it.
func openIdentityStore(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (identityStore, func(), error) {
	switch appConfig.StoreDriver {
	case config.StoreDriverMongo:
		connection, err := database.OpenMongo(ctx, appConfig.MongoURI, appConfig.MongoTimeout, logger)
		if err != nil {
			return nil, nil, err
		}
		closeStore := func() {
			if err := connection.Close(context.Background()); err != nil {
				logger.Warn("mongo disconnect failed", zap.Error(err))
			}
		}
		store, err := users.NewMongoStore(connection.Database, nil)
		if err != nil {
			closeStore()
			return nil, nil, err
		}
		indexCtx, cancel := context.WithTimeout(ctx, appConfig.MongoTimeout)
		defer cancel()
		if err := store.EnsureIndexes(indexCtx); err != nil {
			closeStore()
			return nil, nil, err
		}
		return store, closeStore, nil
	case config.StoreDriverSQLite:
		db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		closeStore := func() {
			if err := sqlDB.Close(); err != nil {
				logger.Warn("sqlite close failed", zap.Error(err))
			}
		}
		store, err := users.NewGormStore(db, users.NewUUIDProvider())
		if err != nil {
			closeStore()
			return nil, nil, err
		}
		return store, closeStore, nil
	default:
		return nil, nil, fmt.Errorf("store.driver %q is not supported", appConfig.StoreDriver)
	}
}

// newPhotoUploader builds the configured photo backend. uploadsDir is non-empty only
// for the local backend, whose files the HTTP server serves directly.
func newPhotoUploader(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (*photos.Uploader, string, error) {
	var (
		storage    photos.Storage
		uploadsDir string
	)
	switch appConfig.Photos.Driver {
	case config.PhotoDriverMinio:
		minioStorage, err := photos.NewMinioStorage(ctx, photos.MinioConfig{
			Endpoint:      appConfig.Photos.MinioEndpoint,
			AccessKey:     appConfig.Photos.MinioAccess,
			SecretKey:     appConfig.Photos.MinioSecret,
			Bucket:        appConfig.Photos.MinioBucket,
			PublicBaseURL: appConfig.Photos.PublicBaseURL,
		})
		if err != nil {
			return nil, "", err
		}
		storage = minioStorage
	case config.PhotoDriverLocal:
		localStorage, err := photos.NewLocalStorage(appConfig.Photos.Directory, appConfig.Photos.PublicPath)
		if err != nil {
			return nil, "", err
		}
		storage = localStorage
		uploadsDir = localStorage.Dir()
	default:
		return nil, "", fmt.Errorf("photos.driver %q is not supported", appConfig.Photos.Driver)
	}

	uploader, err := photos.NewUploader(photos.UploaderConfig{
		Storage:  storage,
		MaxFiles: appConfig.Photos.MaxFiles,
		MaxBytes: appConfig.Photos.MaxBytes,
		Logger:   logger,
	})
	if err != nil {
		return nil, "", err
	}
	return uploader, uploadsDir, nil
}
