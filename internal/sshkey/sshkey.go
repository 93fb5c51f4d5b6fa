// Package sshkey manages the key pair the backup user pushes to models.
package sshkey

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/kebairia/jujubackup/internal/fileutil"
)

const rsaBits = 2048

// ErrInvalidKey indicates a public key that cannot be parsed.
var ErrInvalidKey = errors.New("invalid ssh public key")

// Fingerprint returns the legacy MD5 fingerprint of an authorized_keys line
// followed by its comment, e.g. "a3:fe:...:17 (user@host)". This is the form
// `juju ssh-keys` lists.
func Fingerprint(rawPubkey string) (string, error) {
	key, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(strings.TrimSpace(rawPubkey)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	fp := ssh.FingerprintLegacyMD5(key)
	if comment != "" {
		fp += " (" + comment + ")"
	}
	return fp, nil
}

// ReadPublicKey loads an authorized_keys formatted public key.
func ReadPublicKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read public key %q: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// EnsureKeyPair generates an RSA key pair at privatePath and
// privatePath+".pub" unless the private key already exists. It reports
// whether a new pair was written.
func EnsureKeyPair(privatePath, comment string) (bool, error) {
	if fileutil.IsRegularFile(privatePath) {
		return false, nil
	}
	if err := fileutil.EnsureDirectoryExist(filepath.Dir(privatePath), 0o700); err != nil {
		return false, err
	}

	private, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return false, fmt.Errorf("generate rsa key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(private, comment)
	if err != nil {
		return false, fmt.Errorf("marshal private key: %w", err)
	}
	public, err := ssh.NewPublicKey(&private.PublicKey)
	if err != nil {
		return false, fmt.Errorf("derive public key: %w", err)
	}
	authorized := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(public)))
	if comment != "" {
		authorized += " " + comment
	}

	if err := fileutil.WriteFileAtomic(privatePath, pem.EncodeToMemory(block), 0o600); err != nil {
		return false, err
	}
	if err := fileutil.WriteFileAtomic(privatePath+".pub", []byte(authorized+"\n"), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
