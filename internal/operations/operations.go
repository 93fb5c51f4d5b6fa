package operations

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/juju/clock"

	"github.com/kebairia/jujubackup/internal/backup"
	"github.com/kebairia/jujubackup/internal/config"
	"github.com/kebairia/jujubackup/internal/health"
	"github.com/kebairia/jujubackup/internal/juju"
	"github.com/kebairia/jujubackup/internal/keypush"
	"github.com/kebairia/jujubackup/internal/logger"
	"github.com/kebairia/jujubackup/internal/metrics"
	"github.com/kebairia/jujubackup/internal/results"
	"github.com/kebairia/jujubackup/internal/setup"
	"github.com/kebairia/jujubackup/internal/sshkey"
	"github.com/kebairia/jujubackup/internal/vault"
)

// AccountSource provides controller accounts kept outside the config file.
type AccountSource interface {
	GetAccounts(ctx context.Context, path string) (juju.AccountsFile, error)
}

// OperationManager is a struct that manages the backup and host operations.
type OperationManager struct {
	cfg        config.Config
	configPath string
	log        logger.Logger
	clock      clock.Clock

	store       *results.Store
	evaluator   *health.Evaluator
	publisher   *metrics.Publisher
	processor   backup.Processor
	models      keypush.ModelClient
	provisioner *setup.Provisioner
	accounts    AccountSource
}

// Option lets you override default collaborators of an OperationManager.
type Option func(*OperationManager)

// WithLogger overrides the logger.
func WithLogger(log logger.Logger) Option {
	return func(om *OperationManager) {
		if log != nil {
			om.log = log
		}
	}
}

// WithClock overrides the clock used for durations and purge cut-offs.
func WithClock(clk clock.Clock) Option {
	return func(om *OperationManager) {
		if clk != nil {
			om.clock = clk
		}
	}
}

// WithConfigPath records the configuration file the crontab points at.
func WithConfigPath(path string) Option {
	return func(om *OperationManager) {
		if path != "" {
			om.configPath = path
		}
	}
}

// WithProcessor replaces the backup processor.
func WithProcessor(p backup.Processor) Option {
	return func(om *OperationManager) {
		if p != nil {
			om.processor = p
		}
	}
}

// WithModelClient replaces the juju client used for key propagation.
func WithModelClient(c keypush.ModelClient) Option {
	return func(om *OperationManager) {
		if c != nil {
			om.models = c
		}
	}
}

// WithProvisioner replaces the host provisioner.
func WithProvisioner(p *setup.Provisioner) Option {
	return func(om *OperationManager) {
		if p != nil {
			om.provisioner = p
		}
	}
}

// WithAccountSource replaces the Vault account lookup.
func WithAccountSource(src AccountSource) Option {
	return func(om *OperationManager) {
		if src != nil {
			om.accounts = src
		}
	}
}

// NewOperationManager wires the collaborators for cfg.
func NewOperationManager(cfg config.Config, opts ...Option) *OperationManager {
	om := &OperationManager{
		cfg:        cfg,
		configPath: config.DefaultConfigPath,
		log:        logger.Global(),
		clock:      clock.WallClock,
	}
	for _, opt := range opts {
		opt(om)
	}

	om.store = results.NewStore(cfg.Paths.ResultsFile)
	om.evaluator = &health.Evaluator{Clock: om.clock}
	om.publisher = metrics.NewPublisher(cfg.Exporter.StatsDir, om.log)

	if om.processor == nil {
		om.processor = backup.NewExecProcessor(
			backup.WithCommand(cfg.Juju.BackupCommand),
			backup.WithJujuData(cfg.Paths.DataDir),
			backup.WithOutputDir(cfg.Backup.OutputDirectory),
			backup.WithControllers(cfg.Backup.Controllers...),
			backup.WithExclusions(
				cfg.Backup.ExcludeControllerBackup,
				cfg.Backup.ExcludeClientConfigBackup,
				cfg.Backup.ExcludeCharms,
				cfg.Backup.ExcludeModels,
			),
			backup.WithOverallTimeout(cfg.Backup.OverallTimeout),
			backup.WithLogger(om.log),
		)
	}
	if om.models == nil {
		om.models = juju.NewClient(
			juju.WithBinary(cfg.Juju.Binary),
			juju.WithJujuData(cfg.Paths.DataDir),
			juju.WithTimeout(cfg.Backup.TaskTimeout),
			juju.WithLogger(om.log),
		)
	}
	if om.provisioner == nil {
		om.provisioner = setup.New(cfg, om.log)
	}
	return om
}

// Config returns the configuration the manager was built with.
func (om *OperationManager) Config() config.Config { return om.cfg }

// Install prepares the host: backup user, data directory with its SSH key
// pair, backup directory and the NRPE check.
func (om *OperationManager) Install(ctx context.Context) error {
	if err := om.provisioner.EnsureUser(ctx); err != nil {
		return err
	}
	if err := om.provisioner.InitDataDir(); err != nil {
		return err
	}
	if err := om.provisioner.CreateBackupDir(); err != nil {
		return err
	}
	binary, err := om.binary()
	if err != nil {
		return err
	}
	if _, err := om.provisioner.ConfigureNRPE(binary); err != nil {
		return err
	}
	om.log.Info("install completed", "data_dir", om.cfg.Paths.DataDir)
	return nil
}

// Reconfigure applies the controllers and accounts configuration and
// installs the crontab. Accounts are read from Vault when configured.
func (om *OperationManager) Reconfigure(ctx context.Context) error {
	accountsYAML := om.cfg.Juju.Accounts
	if om.cfg.Vault.Enabled() {
		src, err := om.accountSource(ctx)
		if err != nil {
			return err
		}
		accounts, err := src.GetAccounts(ctx, om.cfg.Vault.AccountsPath)
		if err != nil {
			return fmt.Errorf("%w: %v", setup.ErrInvalidAccounts, err)
		}
		if accountsYAML, err = accounts.Marshal(); err != nil {
			return fmt.Errorf("%w: %v", setup.ErrInvalidAccounts, err)
		}
	}

	if _, err := om.provisioner.WriteJujuData(om.cfg.Juju.Controllers, accountsYAML); err != nil {
		return err
	}
	if err := om.provisioner.CreateBackupDir(); err != nil {
		return err
	}
	binary, err := om.binary()
	if err != nil {
		return err
	}
	return om.provisioner.UpdateCrontab(binary, om.configPath)
}

// PushKeys authorizes the backup user's public key on every model of the
// configured controllers.
func (om *OperationManager) PushKeys(ctx context.Context) (keypush.Report, error) {
	publicKey, err := sshkey.ReadPublicKey(om.cfg.Paths.SSHPublicKey())
	if err != nil {
		return keypush.Report{}, err
	}
	controllers, err := om.controllerNames()
	if err != nil {
		return keypush.Report{}, err
	}
	report, err := keypush.NewPusher(om.models, om.log).Push(ctx, controllers, publicKey)
	if err != nil {
		return report, err
	}
	if !report.OK() {
		om.log.Warn("ssh key push incomplete", "failed", report.Failed)
	}
	return report, nil
}

func (om *OperationManager) accountSource(ctx context.Context) (AccountSource, error) {
	if om.accounts != nil {
		return om.accounts, nil
	}
	client, err := vault.NewClient(ctx,
		vault.WithAddress(om.cfg.Vault.Address),
		vault.WithAppRole(om.cfg.Vault.RoleID, om.cfg.Vault.RoleName),
	)
	if err != nil {
		return nil, err
	}
	om.accounts = client
	return client, nil
}

// controllerNames lists the configured controllers, or every controller in
// the juju data directory when none are configured.
func (om *OperationManager) controllerNames() ([]string, error) {
	if len(om.cfg.Backup.Controllers) > 0 {
		return om.cfg.Backup.Controllers, nil
	}
	path := filepath.Join(om.cfg.Paths.DataDir, "controllers.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read controllers: %w", err)
	}
	controllers, err := juju.ParseControllers(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return controllers.Names(), nil
}

func (om *OperationManager) binary() (string, error) {
	if om.cfg.Paths.Binary != "" {
		return om.cfg.Paths.Binary, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	return exe, nil
}
