// Package ipa unpacks iOS application packages and reads their bundle
// metadata.
package ipa

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"howett.net/plist"
)

var (
	ErrNoPackage      = errors.New("no .app bundle found in Payload directory")
	ErrInvalidPackage = errors.New("invalid package")
)

// Info is the subset of Info.plist the library cares about.
type Info struct {
	Name     string
	BundleID string
	Version  string
	Icon     string
}

type infoPlist struct {
	DisplayName   string `plist:"CFBundleDisplayName"`
	BundleName    string `plist:"CFBundleName"`
	Identifier    string `plist:"CFBundleIdentifier"`
	ShortVersion  string `plist:"CFBundleShortVersionString"`
	BundleVersion string `plist:"CFBundleVersion"`
	Icons         struct {
		Primary struct {
			Files []string `plist:"CFBundleIconFiles"`
		} `plist:"CFBundlePrimaryIcon"`
	} `plist:"CFBundleIcons"`
	IconFiles []string `plist:"CFBundleIconFiles"`
}

// Extract unpacks the package at ipaPath into destDir. progress, if set,
// receives the fraction of entries written so far.
func Extract(ctx context.Context, ipaPath, destDir string, progress func(float64)) error {
	r, err := zip.OpenReader(ipaPath)
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %v", ErrInvalidPackage, filepath.Base(ipaPath), err)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", destDir, err)
	}

	total := len(r.File)
	for i, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := extractZipFile(f, destDir); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
		if progress != nil {
			progress(float64(i+1) / float64(total))
		}
	}
	return nil
}

func extractZipFile(f *zip.File, destDir string) error {
	// Reject entries escaping destDir (zip slip).
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("%w: illegal file path %s", ErrInvalidPackage, f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(destPath, 0755)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	destFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer destFile.Close()

	srcFile, err := f.Open()
	if err != nil {
		return err
	}
	defer srcFile.Close()

	_, err = io.Copy(destFile, srcFile)
	return err
}

// FindAppBundle returns the path of the .app directory inside an extracted
// package.
func FindAppBundle(extractedDir string) (string, error) {
	entries, err := os.ReadDir(filepath.Join(extractedDir, "Payload"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoPackage
		}
		return "", fmt.Errorf("failed to read Payload directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() && strings.HasSuffix(entry.Name(), ".app") {
			return filepath.Join(extractedDir, "Payload", entry.Name()), nil
		}
	}
	return "", ErrNoPackage
}

// ReadInfo parses the Info.plist of the app bundle inside extractedDir.
func ReadInfo(extractedDir string) (*Info, error) {
	appDir, err := FindAppBundle(extractedDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(appDir, "Info.plist"))
	if err != nil {
		return nil, fmt.Errorf("%w: missing Info.plist: %v", ErrInvalidPackage, err)
	}
	return ParseInfo(data, strings.TrimSuffix(filepath.Base(appDir), ".app"))
}

// ParseInfo decodes Info.plist data (XML or binary). fallbackName is used
// when the plist has no display or bundle name.
func ParseInfo(data []byte, fallbackName string) (*Info, error) {
	var p infoPlist
	if _, err := plist.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: failed to parse Info.plist: %v", ErrInvalidPackage, err)
	}
	if p.Identifier == "" {
		return nil, fmt.Errorf("%w: Info.plist has no CFBundleIdentifier", ErrInvalidPackage)
	}

	info := &Info{
		Name:     firstNonEmpty(p.DisplayName, p.BundleName, fallbackName),
		BundleID: p.Identifier,
		Version:  firstNonEmpty(p.ShortVersion, p.BundleVersion),
	}

	icons := p.Icons.Primary.Files
	if len(icons) == 0 {
		icons = p.IconFiles
	}
	if len(icons) > 0 {
		// The last entry is the largest rendition.
		info.Icon = icons[len(icons)-1]
	}
	return info, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Pack zips the extracted package in srcDir into a package at destPath.
// progress, if set, receives the fraction of files written so far.
func Pack(ctx context.Context, srcDir, destPath string, progress func(float64)) error {
	if _, err := FindAppBundle(srcDir); err != nil {
		return err
	}

	var files []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", srcDir, err)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	w := zip.NewWriter(out)
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			w.Close()
			return err
		}
		if err := addZipFile(w, srcDir, path); err != nil {
			w.Close()
			return fmt.Errorf("failed to add %s: %w", path, err)
		}
		if progress != nil {
			progress(float64(i+1) / float64(len(files)))
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish package: %w", err)
	}
	return out.Close()
}

func addZipFile(w *zip.Writer, root, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.ToSlash(rel)
	header.Method = zip.Deflate

	dst, err := w.CreateHeader(header)
	if err != nil {
		return err
	}

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = io.Copy(dst, src)
	return err
}
