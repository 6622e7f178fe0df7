package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jaki95/ipa-library/internal/ipa"
	"github.com/jaki95/ipa-library/internal/library"
	"github.com/jaki95/ipa-library/internal/monitor"
	"github.com/jaki95/ipa-library/internal/storage"
)

// packFraction is the share of an install spent repackaging; the rest is
// the upload into storage.
const packFraction = 0.8

// InstallService publishes signed apps as installable packages in storage.
type InstallService struct {
	runner  *Runner
	library *library.Store
	storage storage.Storage
	tempDir string
}

func NewInstallService(runner *Runner, store *library.Store, st storage.Storage, tempDir string) *InstallService {
	return &InstallService{
		runner:  runner,
		library: store,
		storage: st,
		tempDir: tempDir,
	}
}

// Install starts repackaging the signed app with appID into storage. The
// returned id keys both the install activity and the stored package.
func (s *InstallService) Install(ctx context.Context, appID string) (string, error) {
	app, err := s.library.Get(ctx, appID)
	if err != nil {
		return "", err
	}
	if app.Kind != library.KindSigned {
		return "", fmt.Errorf("%w: %s", ErrNotSigned, appID)
	}

	id := uuid.NewString()
	job := Job{
		ID:       id,
		Name:     app.Name,
		BundleID: app.BundleID,
		IconRef:  app.Icon,
		Resolver: monitor.ResolverFunc(func(ctx context.Context, id string) (bool, error) {
			return s.storage.PackageExists(ctx, id), nil
		}),
	}

	_, err = s.runner.Run(job, func(ctx context.Context, report func(float64)) error {
		if err := os.MkdirAll(s.tempDir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", s.tempDir, err)
		}
		pkgPath := filepath.Join(s.tempDir, id+".ipa")
		defer os.Remove(pkgPath)

		err := ipa.Pack(ctx, app.Path, pkgPath, func(fraction float64) {
			report(fraction * packFraction)
		})
		if err != nil {
			return err
		}

		if _, err := s.storage.SavePackage(ctx, id, pkgPath); err != nil {
			return fmt.Errorf("failed to store package: %w", err)
		}
		if err := ctx.Err(); err != nil {
			s.storage.DeletePackage(context.Background(), id)
			return err
		}
		report(1)
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
