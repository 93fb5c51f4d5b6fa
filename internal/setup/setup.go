// Package setup provisions the host: the backup user, its data directory,
// the juju client files, the crontab and the NRPE check.
package setup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kebairia/jujubackup/internal/config"
	"github.com/kebairia/jujubackup/internal/fileutil"
	"github.com/kebairia/jujubackup/internal/juju"
	"github.com/kebairia/jujubackup/internal/logger"
	"github.com/kebairia/jujubackup/internal/sshkey"
)

var (
	// ErrMissingAccounts means controllers or accounts are not configured yet.
	ErrMissingAccounts = errors.New("waiting for controllers/accounts configuration")
	// ErrInvalidAccounts means controllers or accounts cannot be used.
	ErrInvalidAccounts = errors.New("invalid controllers/accounts configuration")
)

// CommandRunner executes a system command.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// OwnerLookup resolves a user name to uid and gid.
type OwnerLookup func(name string) (uid, gid int, err error)

// Provisioner applies host-level state.
type Provisioner struct {
	cfg   config.Config
	log   logger.Logger
	run   CommandRunner
	owner OwnerLookup
}

// Option lets you override default settings on a Provisioner.
type Option func(*Provisioner)

// WithCommandRunner replaces the system command runner.
func WithCommandRunner(run CommandRunner) Option {
	return func(p *Provisioner) {
		if run != nil {
			p.run = run
		}
	}
}

// WithOwnerLookup replaces the user lookup used for chown.
func WithOwnerLookup(owner OwnerLookup) Option {
	return func(p *Provisioner) {
		if owner != nil {
			p.owner = owner
		}
	}
}

// New returns a Provisioner for cfg.
func New(cfg config.Config, log logger.Logger, opts ...Option) *Provisioner {
	p := &Provisioner{cfg: cfg, log: log, run: execRunner, owner: lookupOwner}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureUser creates the backup system user unless it exists.
func (p *Provisioner) EnsureUser(ctx context.Context) error {
	name := p.cfg.Backup.User
	if _, err := user.Lookup(name); err == nil {
		p.log.Debug("backup user exists", "user", name)
		return nil
	} else {
		var unknown user.UnknownUserError
		if !errors.As(err, &unknown) {
			return fmt.Errorf("lookup user %q: %w", name, err)
		}
	}

	p.log.Info("creating backup user", "user", name)
	err := p.run(ctx, "useradd",
		"--system",
		"--user-group",
		"--home-dir", p.cfg.Paths.DataDir,
		"--shell", "/bin/bash",
		name,
	)
	if err != nil {
		return fmt.Errorf("create user %q: %w", name, err)
	}
	return nil
}

// InitDataDir creates the data directory layout and the SSH key pair, owned
// by the backup user.
func (p *Provisioner) InitDataDir() error {
	paths := p.cfg.Paths
	dirs := []struct {
		path string
		perm fs.FileMode
	}{
		{paths.DataDir, 0o755},
		{paths.SSHDir(), 0o700},
		{paths.CookiesDir(), 0o700},
	}
	for _, d := range dirs {
		if err := fileutil.EnsureDirectoryExist(d.path, d.perm); err != nil {
			return err
		}
	}

	hostname, _ := os.Hostname()
	created, err := sshkey.EnsureKeyPair(paths.SSHPrivateKey(), p.cfg.Backup.User+"@"+hostname)
	if err != nil {
		return fmt.Errorf("ssh key pair: %w", err)
	}
	if created {
		p.log.Info("generated ssh key pair", "path", paths.SSHPrivateKey())
	}

	return p.chownR(paths.DataDir)
}

// CreateBackupDir creates the backup output directory.
func (p *Provisioner) CreateBackupDir() error {
	dir := p.cfg.Backup.OutputDirectory
	if err := fileutil.EnsureDirectoryExist(dir, 0o755); err != nil {
		return err
	}
	return p.chownR(dir)
}

// ValidateJujuData checks the controllers and accounts documents.
func ValidateJujuData(controllersYAML, accountsYAML string) (juju.ControllersFile, juju.AccountsFile, error) {
	if strings.TrimSpace(controllersYAML) == "" || strings.TrimSpace(accountsYAML) == "" {
		return juju.ControllersFile{}, juju.AccountsFile{}, ErrMissingAccounts
	}
	controllers, err := juju.ParseControllers(controllersYAML)
	if err != nil {
		return controllers, juju.AccountsFile{}, fmt.Errorf("%w: %v", ErrInvalidAccounts, err)
	}
	accounts, err := juju.ParseAccounts(accountsYAML)
	if err != nil {
		return controllers, accounts, fmt.Errorf("%w: %v", ErrInvalidAccounts, err)
	}
	if err := accounts.Validate(controllers); err != nil {
		return controllers, accounts, fmt.Errorf("%w: %v", ErrInvalidAccounts, err)
	}
	return controllers, accounts, nil
}

// WriteJujuData writes controllers.yaml, accounts.yaml and an empty cookie
// jar per controller into the juju data directory.
func (p *Provisioner) WriteJujuData(controllersYAML, accountsYAML string) (juju.ControllersFile, error) {
	controllers, _, err := ValidateJujuData(controllersYAML, accountsYAML)
	if err != nil {
		return controllers, err
	}

	dataDir := p.cfg.Paths.DataDir
	if err := fileutil.WriteFileAtomic(filepath.Join(dataDir, "controllers.yaml"), []byte(controllersYAML), 0o600); err != nil {
		return controllers, err
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dataDir, "accounts.yaml"), []byte(accountsYAML), 0o600); err != nil {
		return controllers, err
	}

	if err := fileutil.EnsureDirectoryExist(p.cfg.Paths.CookiesDir(), 0o700); err != nil {
		return controllers, err
	}
	for _, name := range controllers.Names() {
		jar := filepath.Join(p.cfg.Paths.CookiesDir(), name+".json")
		if fileutil.IsRegularFile(jar) {
			continue
		}
		if err := fileutil.WriteFileAtomic(jar, []byte("[]"), 0o600); err != nil {
			return controllers, err
		}
	}

	p.log.Info("juju data updated", "dir", dataDir, "controllers", controllers.Names())
	return controllers, p.chownR(dataDir)
}

func (p *Provisioner) chownR(root string) error {
	uid, gid, err := p.owner(p.cfg.Backup.User)
	if err != nil {
		return fmt.Errorf("resolve owner %q: %w", p.cfg.Backup.User, err)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := os.Lchown(path, uid, gid); err != nil {
			return fmt.Errorf("chown %q: %w", path, err)
		}
		return nil
	})
}

func lookupOwner(name string) (int, int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, err
	}
	return uid, gid, nil
}

func execRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
