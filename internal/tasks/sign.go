package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jaki95/ipa-library/internal/ipa"
	"github.com/jaki95/ipa-library/internal/library"
	"github.com/jaki95/ipa-library/internal/monitor"
)

// Signer re-signs an extracted package into outputDir. The signing engine
// itself lives outside this repository.
type Signer interface {
	Sign(ctx context.Context, app *library.App, outputDir string, report func(float64)) error
}

// SignService signs library apps and stores the results as signed apps.
type SignService struct {
	runner    *Runner
	signer    Signer
	library   *library.Store
	signedDir string
}

func NewSignService(runner *Runner, signer Signer, store *library.Store, signedDir string) *SignService {
	return &SignService{
		runner:    runner,
		signer:    signer,
		library:   store,
		signedDir: signedDir,
	}
}

// Sign starts signing the app with appID. The returned id keys both the sign
// activity and, once it succeeds, the signed app.
func (s *SignService) Sign(ctx context.Context, appID string) (string, error) {
	if s.signer == nil {
		return "", ErrNoSigner
	}

	app, err := s.library.Get(ctx, appID)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	outputDir := filepath.Join(s.signedDir, id)

	job := Job{
		ID:       id,
		Name:     app.Name,
		BundleID: app.BundleID,
		IconRef:  app.Icon,
		Resolver: monitor.ResolverFunc(s.library.Exists),
	}

	_, err = s.runner.Run(job, func(ctx context.Context, report func(float64)) error {
		if err := s.signer.Sign(ctx, app, outputDir, report); err != nil {
			os.RemoveAll(outputDir)
			return err
		}

		info, err := ipa.ReadInfo(outputDir)
		if err != nil {
			os.RemoveAll(outputDir)
			return err
		}

		signed := &library.App{
			ID:       id,
			Name:     info.Name,
			BundleID: info.BundleID,
			Version:  info.Version,
			Kind:     library.KindSigned,
			Path:     outputDir,
			Icon:     info.Icon,
		}
		return s.library.Save(ctx, signed)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// CommandSigner runs an external signing tool. In Args, {input} is replaced
// by the extracted package directory and {output} by the directory the tool
// must write the signed package to.
type CommandSigner struct {
	Binary string
	Args   []string
}

func (c *CommandSigner) Sign(ctx context.Context, app *library.App, outputDir string, report func(float64)) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		a = strings.ReplaceAll(a, "{input}", app.Path)
		args[i] = strings.ReplaceAll(a, "{output}", outputDir)
	}

	cmd := exec.CommandContext(ctx, c.Binary, args...)
	slog.Debug("Running signer", "command", cmd.String())
	report(0.1)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		out := string(output)
		if len(out) > 500 {
			out = out[:500] + "..."
		}
		return fmt.Errorf("%w: %v: %s", ErrSignerCommand, err, strings.TrimSpace(out))
	}

	report(1)
	return nil
}
