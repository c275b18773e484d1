// Package credential converts a gateway's login identity to and from a single
// portable string.
//
// A gateway keeps two files in its working directory once an account has
// logged in: the device identity (device.json) and the session token
// (session.token). With both files restored, the gateway skips the interactive
// QR/SMS handshake on its next start. The bundle string lets an operator carry
// that identity between machines or restore it after wiping a directory:
//
//	gocq:<base64 device.json>[,<base64 session.token>]
package credential

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	// Prefix starts every bundle string.
	Prefix = "gocq:"

	// Separator splits the device part from the session part.
	Separator = ","

	// DeviceFile is the device identity file name inside a working directory.
	DeviceFile = "device.json"

	// SessionFile is the session token file name inside a working directory.
	SessionFile = "session.token"
)

var (
	// ErrInvalidFormat is returned by Import for strings that are not bundles.
	ErrInvalidFormat = errors.New("invalid credential bundle format")

	// ErrNotFound is returned by Export when the working directory is missing.
	ErrNotFound = errors.New("credential directory not found")
)

var encoding = base64.StdEncoding

// FileSpec describes one file that takes part in a bundle.
type FileSpec struct {
	// Name is the file name inside the working directory.
	Name string

	// Text marks files the gateway reads as UTF-8 text (JSON). Raw bytes are
	// written back unchanged either way.
	Text bool
}

// Files lists the bundle members in encoding order.
func Files() []FileSpec {
	return []FileSpec{
		{Name: DeviceFile, Text: true},
		{Name: SessionFile},
	}
}

// Export reads the credential files from dir and encodes them as a bundle.
//
// A missing device file yields the bare prefix. A missing session file yields
// a bundle with only the device part.
func Export(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return "", fmt.Errorf("stat credential dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrNotFound, dir)
	}

	device, err := readOptional(filepath.Join(dir, DeviceFile))
	if err != nil {
		return "", err
	}
	if device == nil {
		return Prefix, nil
	}

	var b strings.Builder
	b.WriteString(Prefix)
	b.WriteString(encoding.EncodeToString(device))

	session, err := readOptional(filepath.Join(dir, SessionFile))
	if err != nil {
		return "", err
	}
	if session != nil {
		b.WriteString(Separator)
		b.WriteString(encoding.EncodeToString(session))
	}
	return b.String(), nil
}

// Import decodes a bundle and writes its parts into dir.
//
// Every part is decoded before anything touches the disk, so a malformed
// bundle leaves dir unchanged. An empty or absent part removes the matching
// file. The two file operations run concurrently and both finish before
// Import returns; they are not transactional.
func Import(dir, bundle string) error {
	parts, err := Decode(bundle)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	var g errgroup.Group
	for i, spec := range Files() {
		path := filepath.Join(dir, spec.Name)
		data := parts[i]
		g.Go(func() error {
			return apply(path, data)
		})
	}
	return g.Wait()
}

// Decode splits a bundle into its decoded parts, in Files() order. A nil entry
// means the part is absent.
func Decode(bundle string) ([][]byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(bundle), Prefix)
	if !ok {
		return nil, ErrInvalidFormat
	}

	raw := strings.SplitN(rest, Separator, len(Files()))
	parts := make([][]byte, len(Files()))
	for i, s := range raw {
		if s == "" {
			continue
		}
		data, err := encoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s part: %v", ErrInvalidFormat, Files()[i].Name, err)
		}
		parts[i] = data
	}
	return parts, nil
}

// IsBundle reports whether s carries the bundle prefix.
func IsBundle(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), Prefix)
}

func apply(path string, data []byte) error {
	if data == nil {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
		}
		return nil
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return data, nil
}
